// Package sandbox fixes the host/guest boundary between the evaluator and a
// contract execution environment: Handler is what a plugin implements, Host
// is what the evaluator hands it. No concrete plugin (JS, Wasm, or otherwise)
// lives here — see pkg/executor for how a plugin is selected and cached.
package sandbox
