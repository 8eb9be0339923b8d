// Package verify provides VRF and signature verification hooks plus the
// persistent blacklist and source allowlist that gate which contracts and
// sources the executor will ever evaluate.
package verify
