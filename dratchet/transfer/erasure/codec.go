package erasure

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// MaxShards is the largest data+parity count the codec accepts.
const MaxShards = 256

var (
	ErrTooManyLost   = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig = errors.New("erasure: invalid data/parity configuration")
	ErrShortData     = errors.New("erasure: shards hold less data than requested")
)

// Codec provides Reed-Solomon encoding/decoding.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a codec that tolerates the loss of parityShards shards.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > MaxShards {
		return nil, fmt.Errorf("%w: %d+%d", ErrInvalidConfig, dataShards, parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

func (c *Codec) DataShards() int { return c.dataShards }

func (c *Codec) ParityShards() int { return c.parityShards }

func (c *Codec) TotalShards() int { return c.dataShards + c.parityShards }

// EncodeData splits data into equally sized data shards (zero padded) and
// appends the parity shards.
func (c *Codec) EncodeData(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		// reedsolomon refuses empty input; one zero byte per shard is
		// trimmed again by Join.
		data = []byte{0}
	}
	// Split writes padding into spare capacity; keep it off the caller's buffer.
	shards, err := c.enc.Split(data[:len(data):len(data)])
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Verify checks if the parity shards are consistent with data shards.
func (c *Codec) Verify(shards [][]byte) (bool, error) {
	return c.enc.Verify(shards)
}

// ReconstructData fills in missing data shards (nil entries). Parity shards
// are left as they are.
func (c *Codec) ReconstructData(shards [][]byte) error {
	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return ErrTooManyLost
		}
		return err
	}
	return nil
}

// Join concatenates the data shards and trims the padding.
func (c *Codec) Join(shards [][]byte, outSize int) ([]byte, error) {
	data := make([]byte, 0, outSize)
	for i := 0; i < c.dataShards && len(data) < outSize; i++ {
		if shards[i] == nil {
			return nil, ErrTooManyLost
		}
		remaining := outSize - len(data)
		if remaining >= len(shards[i]) {
			data = append(data, shards[i]...)
		} else {
			data = append(data, shards[i][:remaining]...)
		}
	}
	if len(data) < outSize {
		return nil, ErrShortData
	}
	return data, nil
}

// Overhead returns the size ratio of all shards to the data shards.
func (c *Codec) Overhead() float64 {
	return float64(c.TotalShards()) / float64(c.dataShards)
}
