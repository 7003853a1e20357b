package transfer

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrBadMessage = errors.New("transfer: malformed message")

// Manifest announces a transfer. Every shard hash is listed so a shard can be
// checked on arrival; Root commits to the list.
type Manifest struct {
	ID           string   `cbor:"id"`
	Size         int      `cbor:"size"`
	EncodedSize  int      `cbor:"enc_size"`
	Compressed   bool     `cbor:"lz4"`
	DataShards   int      `cbor:"data"`
	ParityShards int      `cbor:"parity"`
	ShardHashes  [][]byte `cbor:"hashes"`
	Root         []byte   `cbor:"root"`
	Digest       []byte   `cbor:"digest"`
}

// TotalShards is data plus parity.
func (m Manifest) TotalShards() int { return m.DataShards + m.ParityShards }

// Piece carries one shard.
type Piece struct {
	ID    string `cbor:"id"`
	Index int    `cbor:"i"`
	Data  []byte `cbor:"d"`
}

const (
	kindManifest uint8 = 1
	kindPiece    uint8 = 2
	kindEnd      uint8 = 3
)

type message struct {
	Kind     uint8     `cbor:"k"`
	Manifest *Manifest `cbor:"m,omitempty"`
	Piece    *Piece    `cbor:"p,omitempty"`
	ID       string    `cbor:"id,omitempty"`
}

func encodeMessage(m message) ([]byte, error) {
	return cbor.Marshal(m)
}

func decodeMessage(data []byte) (message, error) {
	var m message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	switch {
	case m.Kind == kindManifest && m.Manifest != nil:
	case m.Kind == kindPiece && m.Piece != nil:
	case m.Kind == kindEnd:
	default:
		return message{}, fmt.Errorf("%w: kind %d", ErrBadMessage, m.Kind)
	}
	return m, nil
}
