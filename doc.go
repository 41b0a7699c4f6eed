// Package stronghold is an in-memory, tamper-evident encrypted secret
// store with an at-rest encrypted snapshot format.
//
// Each vault is a content-addressed, hash-chained transaction log that is
// the authoritative history of which secrets exist and in what order they
// were created or revoked. Secret payloads live in a per-vault blob store
// under authenticated encryption; plaintext only ever exists inside
// memguard-guarded buffers that are zeroed on release. The full state of
// all clients and vaults can be serialized into a single
// passphrase-encrypted snapshot file and read back, with every chain
// re-verified before the restored state is trusted.
//
// The package is an embedded library: it exposes no network protocol, no
// CLI and no configuration loading. Hosts provide concurrency policy
// (appends to one vault are serialized internally; cross-process
// coordination is the host's concern), retry policy for I/O, and any
// authorization logic above the cryptographic boundary.
package stronghold
