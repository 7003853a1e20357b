package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheusHen/DRatchet/dratchet/ratchet"
	"github.com/TheusHen/DRatchet/dratchet/transfer/erasure"
)

var (
	ErrTooLarge        = errors.New("transfer: payload too large")
	ErrBadManifest     = errors.New("transfer: invalid manifest")
	ErrBadPiece        = errors.New("transfer: piece does not match manifest")
	ErrIncomplete      = errors.New("transfer: not enough pieces to rebuild payload")
	ErrDigestMismatch  = errors.New("transfer: payload digest mismatch")
	ErrNoManifest      = errors.New("transfer: transfer ended without a manifest")
	ErrUnknownTransfer = errors.New("transfer: piece for another transfer")
)

// MessageConn is the part of a session connection transfers need.
type MessageConn interface {
	Send(ctx context.Context, p []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Config controls how payloads are cut up.
type Config struct {
	ChunkSize    int
	ParityShards int
	Compression  CompressionLevel
	// MaxSize bounds what a receiver accepts.
	MaxSize int
}

const DefaultMaxSize = 64 << 20

func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ParityShards: 2,
		Compression:  CompressionDefault,
		MaxSize:      DefaultMaxSize,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.ParityShards < 0 {
		c.ParityShards = 0
	}
	return c
}

// Prepare compresses and shards data and builds its manifest.
func Prepare(data []byte, cfg Config) (Manifest, [][]byte, error) {
	cfg = cfg.withDefaults()
	if len(data) > cfg.MaxSize {
		return Manifest{}, nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	encoded, compressed := maybeCompress(data, cfg.Compression)

	chunker := NewChunker(cfg.ChunkSize)
	k := chunker.Count(len(encoded))
	if k+cfg.ParityShards > erasure.MaxShards {
		return Manifest{}, nil, fmt.Errorf("%w: %d shards", ErrTooLarge, k+cfg.ParityShards)
	}

	var shards [][]byte
	if cfg.ParityShards > 0 {
		codec, err := erasure.NewCodec(k, cfg.ParityShards)
		if err != nil {
			return Manifest{}, nil, err
		}
		if shards, err = codec.EncodeData(encoded); err != nil {
			return Manifest{}, nil, err
		}
	} else {
		for _, c := range chunker.Split(encoded) {
			shards = append(shards, c.Data)
		}
	}

	hashes := make([][]byte, len(shards))
	for i, s := range shards {
		hashes[i] = HashChunk(s)
	}
	root, err := MerkleRoot(hashes)
	if err != nil {
		return Manifest{}, nil, err
	}
	digest := sha256.Sum256(data)
	return Manifest{
		ID:           uuid.NewString(),
		Size:         len(data),
		EncodedSize:  len(encoded),
		Compressed:   compressed,
		DataShards:   k,
		ParityShards: cfg.ParityShards,
		ShardHashes:  hashes,
		Root:         root,
		Digest:       digest[:],
	}, shards, nil
}

// Send transfers data over conn: manifest, every shard, then an end marker.
func Send(ctx context.Context, conn MessageConn, data []byte, cfg Config) (Manifest, error) {
	m, shards, err := Prepare(data, cfg)
	if err != nil {
		return Manifest{}, err
	}
	if err := sendMessage(ctx, conn, message{Kind: kindManifest, Manifest: &m}); err != nil {
		return Manifest{}, err
	}
	for i, s := range shards {
		if err := sendMessage(ctx, conn, message{Kind: kindPiece, Piece: &Piece{ID: m.ID, Index: i, Data: s}}); err != nil {
			return Manifest{}, err
		}
	}
	if err := sendMessage(ctx, conn, message{Kind: kindEnd, ID: m.ID}); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func sendMessage(ctx context.Context, conn MessageConn, m message) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	return conn.Send(ctx, b)
}

// Stats describes what a receive saw.
type Stats struct {
	Pieces   int
	Rejected int
}

// Receive reads one transfer from conn. Envelopes that fail to decrypt and
// pieces that fail verification count as lost; parity covers them.
func Receive(ctx context.Context, conn MessageConn, cfg Config) ([]byte, Manifest, Stats, error) {
	cfg = cfg.withDefaults()
	var (
		asm   *Assembler
		stats Stats
	)
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			switch ratchet.KindOf(err) {
			case ratchet.KindDecryption, ratchet.KindInvalidEnvelope:
				stats.Rejected++
				continue
			}
			return nil, Manifest{}, stats, err
		}
		m, err := decodeMessage(raw)
		if err != nil {
			stats.Rejected++
			continue
		}
		switch m.Kind {
		case kindManifest:
			if asm != nil {
				stats.Rejected++
				continue
			}
			if asm, err = NewAssembler(*m.Manifest, cfg.MaxSize); err != nil {
				return nil, Manifest{}, stats, err
			}
		case kindPiece:
			if asm == nil || asm.Add(*m.Piece) != nil {
				stats.Rejected++
				continue
			}
			stats.Pieces++
		case kindEnd:
			if asm == nil {
				return nil, Manifest{}, stats, ErrNoManifest
			}
			if m.ID != asm.Manifest().ID {
				stats.Rejected++
				continue
			}
			out, err := asm.Assemble()
			return out, asm.Manifest(), stats, err
		}
	}
}

// Assembler collects verified shards of one transfer.
type Assembler struct {
	manifest Manifest
	shards   [][]byte
	present  []bool
	have     int
}

// NewAssembler validates m against its own Merkle root and the size limit.
// The ID must be a UUID in canonical form.
func NewAssembler(m Manifest, maxSize int) (*Assembler, error) {
	switch {
	case !ValidID(m.ID):
		return nil, fmt.Errorf("%w: id %q", ErrBadManifest, m.ID)
	case m.DataShards <= 0, m.ParityShards < 0, m.TotalShards() > erasure.MaxShards:
		return nil, fmt.Errorf("%w: shard counts %d+%d", ErrBadManifest, m.DataShards, m.ParityShards)
	case len(m.ShardHashes) != m.TotalShards():
		return nil, fmt.Errorf("%w: %d hashes for %d shards", ErrBadManifest, len(m.ShardHashes), m.TotalShards())
	case m.Size < 0 || m.Size > maxSize || m.EncodedSize < 0 || m.EncodedSize > maxSize:
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, m.Size)
	}
	root, err := MerkleRoot(m.ShardHashes)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(root, m.Root) {
		return nil, fmt.Errorf("%w: merkle root", ErrBadManifest)
	}
	n := m.TotalShards()
	return &Assembler{manifest: m, shards: make([][]byte, n), present: make([]bool, n)}, nil
}

func (a *Assembler) Manifest() Manifest { return a.manifest }

// ValidID reports whether id is a transfer ID as Prepare generates them.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// Add stores p if it matches its manifest hash. Duplicates are ignored.
func (a *Assembler) Add(p Piece) error {
	if p.ID != a.manifest.ID {
		return ErrUnknownTransfer
	}
	if p.Index < 0 || p.Index >= len(a.shards) {
		return fmt.Errorf("%w: index %d", ErrBadPiece, p.Index)
	}
	if !bytes.Equal(HashChunk(p.Data), a.manifest.ShardHashes[p.Index]) {
		return fmt.Errorf("%w: hash of %d", ErrBadPiece, p.Index)
	}
	if !a.present[p.Index] {
		a.shards[p.Index] = p.Data
		a.present[p.Index] = true
		a.have++
	}
	return nil
}

// Missing lists the shard indices not yet received.
func (a *Assembler) Missing() []int {
	var out []int
	for i, ok := range a.present {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Ready reports whether Assemble can succeed.
func (a *Assembler) Ready() bool {
	if a.manifest.ParityShards > 0 {
		return a.have >= a.manifest.DataShards
	}
	return a.have == a.manifest.DataShards
}

// Assemble rebuilds, decompresses and checks the payload.
func (a *Assembler) Assemble() ([]byte, error) {
	if !a.Ready() {
		return nil, fmt.Errorf("%w: missing %v", ErrIncomplete, a.Missing())
	}
	m := a.manifest

	var encoded []byte
	if m.ParityShards > 0 {
		codec, err := erasure.NewCodec(m.DataShards, m.ParityShards)
		if err != nil {
			return nil, err
		}
		work := make([][]byte, len(a.shards))
		for i, ok := range a.present {
			if ok {
				work[i] = a.shards[i]
			}
		}
		if err := codec.ReconstructData(work); err != nil {
			return nil, err
		}
		if encoded, err = codec.Join(work, m.EncodedSize); err != nil {
			return nil, err
		}
	} else {
		chunks := make([]Chunk, len(a.shards))
		for i, s := range a.shards {
			chunks[i] = Chunk{Index: i, Data: s}
		}
		encoded = Reassemble(chunks)
		if len(encoded) != m.EncodedSize {
			return nil, fmt.Errorf("%w: size %d", ErrBadManifest, len(encoded))
		}
	}

	out := encoded
	if m.Compressed {
		var err error
		if out, err = Decompress(encoded, m.Size); err != nil {
			return nil, err
		}
	}
	if digest := sha256.Sum256(out); len(out) != m.Size || !bytes.Equal(digest[:], m.Digest) {
		return nil, ErrDigestMismatch
	}
	return out, nil
}
