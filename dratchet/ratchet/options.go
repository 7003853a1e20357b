package ratchet

import (
	"time"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// Policy defaults for the skipped-key store.
const (
	DefaultMaxSkip       = 1000
	DefaultMaxStoredKeys = 2000
	DefaultMaxKeyAge     = 24 * time.Hour
)

// Options configures a State. The zero value selects every default.
type Options struct {
	// MaxSkip bounds how far ahead of the receiving counter an envelope
	// index may be.
	MaxSkip uint32
	// MaxStoredKeys bounds the skipped-key store. The least recently stored
	// key is evicted (and wiped) first.
	MaxStoredKeys int
	// MaxKeyAge expires skipped keys. Negative disables age expiry.
	MaxKeyAge time.Duration
	// Suite selects the AEAD.
	Suite crypto.Suite
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultOptions returns the default policy.
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults fills every zero field with its default.
func (o Options) WithDefaults() Options {
	if o.MaxSkip == 0 {
		o.MaxSkip = DefaultMaxSkip
	}
	if o.MaxStoredKeys <= 0 {
		o.MaxStoredKeys = DefaultMaxStoredKeys
	}
	if o.MaxKeyAge == 0 {
		o.MaxKeyAge = DefaultMaxKeyAge
	}
	if o.Suite == 0 {
		o.Suite = crypto.DefaultSuite
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
