// Package erasure adds Reed-Solomon parity to transfer shards.
//
// With k data shards and m parity shards any m shards may be lost or
// rejected and the payload is still recoverable, so a transfer survives
// envelopes that fail to decrypt without a retransmission round trip.
package erasure
