// Package definition resolves a contract transaction id into its immutable
// ContractDefinition: source code or binary, init state, manifest, and the
// other recognized tags that govern how the evaluator treats a contract.
package definition
