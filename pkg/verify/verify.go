// Package verify provides the pluggable verification points the engine
// needs: VRF proof checking, interaction-signature checking, and the
// persistent blacklist/allowlist that gate which contracts and sources the
// executor will evaluate at all. The persistence shape generalizes the
// teacher's AES-256-GCM key handling in pkg/security/secrets.go: small,
// infrequently-changed security records in bbolt, with the blacklist and the
// allowlist each kept in a bbolt file of its own.
package verify

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/cuemby/warpengine/pkg/model"
)

// VRFVerifier checks a verifiable-random-function proof attached to an
// interaction by the network's sequencer.
type VRFVerifier interface {
	Verify(proof model.VRFProof, message []byte) (bool, error)
}

// Ed25519VRFVerifier checks proofs using a standard Ed25519 signature over
// (message || value) as a stand-in VRF scheme: no VRF library appears
// anywhere in the retrieval pack, and a true VRF (e.g. ECVRF) needs a curve
// and hash-to-curve construction no example imports, so this authenticates
// proof.Proof as an Ed25519 signature rather than fabricating a VRF library
// dependency.
type Ed25519VRFVerifier struct{}

func (Ed25519VRFVerifier) Verify(proof model.VRFProof, message []byte) (bool, error) {
	if len(proof.PublicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("verify: vrf public key has wrong size %d", len(proof.PublicKey))
	}
	signed := append(append([]byte(nil), message...), proof.Value...)
	return ed25519.Verify(ed25519.PublicKey(proof.PublicKey), signed, proof.Proof), nil
}

// SignatureVerifier checks that an interaction was authorized by its claimed
// OwnerAddress.
type SignatureVerifier interface {
	Verify(ctx context.Context, ownerAddress string, message, signature []byte) (bool, error)
}

// NoopSignatureVerifier accepts every signature. It exists for local
// evaluation against a gateway that has already performed signature
// verification upstream (the common case: gateways reject unsigned writes
// before they're ever indexed), and must never be wired into a deployment
// that evaluates unvalidated interactions directly from a sequencer.
type NoopSignatureVerifier struct{}

func (NoopSignatureVerifier) Verify(ctx context.Context, ownerAddress string, message, signature []byte) (bool, error) {
	return true, nil
}

// Blacklist records contract and source transaction ids the executor must
// refuse to evaluate, e.g. sources found to violate determinism
// constraints after the fact.
type Blacklist struct {
	store *recordStore
}

// NewBlacklist opens (creating if absent) a blacklist backed by a bbolt
// database under dataDir.
func NewBlacklist(dataDir string) (*Blacklist, error) {
	s, err := newRecordStore(dataDir, "warpengine-blacklist.db", []byte("blacklist"))
	if err != nil {
		return nil, err
	}
	return &Blacklist{store: s}, nil
}

func (b *Blacklist) Add(txID string) error    { return b.store.put(txID) }
func (b *Blacklist) Remove(txID string) error { return b.store.delete(txID) }
func (b *Blacklist) Contains(txID string) (bool, error) {
	return b.store.contains(txID)
}
func (b *Blacklist) Close() error { return b.store.close() }

// SourceAllowlist, when non-empty, restricts evaluation to contract sources
// whose src_tx_id has been explicitly approved — the inverse control from
// Blacklist, used by deployments that only trust an audited set of sources.
type SourceAllowlist struct {
	store *recordStore
}

// NewSourceAllowlist opens (creating if absent) an allowlist backed by its
// own bbolt database under dataDir, separate from the blacklist's so the two
// can be opened concurrently without contending for one file's lock.
func NewSourceAllowlist(dataDir string) (*SourceAllowlist, error) {
	s, err := newRecordStore(dataDir, "warpengine-allowlist.db", []byte("source_allowlist"))
	if err != nil {
		return nil, err
	}
	return &SourceAllowlist{store: s}, nil
}

func (a *SourceAllowlist) Add(srcTxID string) error    { return a.store.put(srcTxID) }
func (a *SourceAllowlist) Remove(srcTxID string) error { return a.store.delete(srcTxID) }

// Allowed reports whether srcTxID may be evaluated: true if the allowlist is
// empty (no restriction configured) or if srcTxID was explicitly added.
func (a *SourceAllowlist) Allowed(srcTxID string) (bool, error) {
	empty, err := a.store.empty()
	if err != nil {
		return false, err
	}
	if empty {
		return true, nil
	}
	return a.store.contains(srcTxID)
}

func (a *SourceAllowlist) Close() error { return a.store.close() }
