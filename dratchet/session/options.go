package session

import (
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/ratchet"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	ratchet ratchet.Options
	logger  *zap.Logger
	metrics *Metrics
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRatchetOptions sets the skipped-key policy and cipher suite.
func WithRatchetOptions(ro ratchet.Options) Option {
	return func(o *options) { o.ratchet = ro }
}

// WithSuite selects the AEAD used for messages. Both sides must agree.
func WithSuite(s crypto.Suite) Option {
	return func(o *options) { o.ratchet.Suite = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}
