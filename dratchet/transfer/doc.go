// Package transfer moves payloads larger than one envelope over a ratchet
// session.
//
// A payload is optionally LZ4-compressed, cut into shards (plus
// Reed-Solomon parity when configured) and announced by a manifest that
// carries every shard hash and their Merkle root. Each shard then travels in
// its own envelope. The receiver verifies shards against the manifest,
// treats undecryptable or corrupted shards as lost, and rebuilds the
// payload from any sufficient subset.
package transfer
