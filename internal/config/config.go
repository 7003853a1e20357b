// Package config loads the dratchet.toml file used by the command line tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
	"github.com/TheusHen/DRatchet/dratchet/ratchet"
	"github.com/TheusHen/DRatchet/dratchet/transport/quic"
)

var ErrInvalid = errors.New("config: invalid value")

// Duration is a time.Duration written as "30s", "24h" and so on.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Listen       string `toml:"listen"`
	IdentityFile string `toml:"identity_file"`
	LogLevel     string `toml:"log_level"`
	MetricsAddr  string `toml:"metrics_addr"`

	Ratchet   Ratchet   `toml:"ratchet"`
	Transport Transport `toml:"transport"`
}

// Ratchet is the message key policy.
type Ratchet struct {
	Suite         string   `toml:"suite"`
	MaxSkip       uint32   `toml:"max_skip"`
	MaxStoredKeys int      `toml:"max_stored_keys"`
	MaxKeyAge     Duration `toml:"max_key_age"`
}

type Transport struct {
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	MaxIdleTimeout   Duration `toml:"max_idle_timeout"`
	KeepAlivePeriod  Duration `toml:"keep_alive_period"`
}

func Default() Config {
	return Config{
		Listen:       "[::]:4242",
		IdentityFile: "identity.toml",
		LogLevel:     "info",
		Ratchet: Ratchet{
			Suite:         crypto.DefaultSuite.String(),
			MaxSkip:       ratchet.DefaultMaxSkip,
			MaxStoredKeys: ratchet.DefaultMaxStoredKeys,
			MaxKeyAge:     Duration{ratchet.DefaultMaxKeyAge},
		},
		Transport: Transport{
			HandshakeTimeout: Duration{quic.DefaultHandshakeTimeout},
			MaxIdleTimeout:   Duration{quic.DefaultMaxIdleTimeout},
			KeepAlivePeriod:  Duration{quic.DefaultKeepAlivePeriod},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

// Write stores cfg as TOML at path.
func (c Config) Write(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c Config) Validate() error {
	if _, err := crypto.ParseSuite(c.Ratchet.Suite); err != nil {
		return fmt.Errorf("%w: ratchet.suite: %v", ErrInvalid, err)
	}
	if c.Ratchet.MaxStoredKeys < 0 {
		return fmt.Errorf("%w: ratchet.max_stored_keys %d", ErrInvalid, c.Ratchet.MaxStoredKeys)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	return nil
}

// RatchetOptions converts the policy for ratchet.State.
func (c Config) RatchetOptions() (ratchet.Options, error) {
	suite, err := crypto.ParseSuite(c.Ratchet.Suite)
	if err != nil {
		return ratchet.Options{}, err
	}
	return ratchet.Options{
		MaxSkip:       c.Ratchet.MaxSkip,
		MaxStoredKeys: c.Ratchet.MaxStoredKeys,
		MaxKeyAge:     c.Ratchet.MaxKeyAge.Duration,
		Suite:         suite,
	}, nil
}

func (c Config) TransportConfig() quic.Config {
	return quic.Config{
		HandshakeTimeout: c.Transport.HandshakeTimeout.Duration,
		MaxIdleTimeout:   c.Transport.MaxIdleTimeout.Duration,
		KeepAlivePeriod:  c.Transport.KeepAlivePeriod.Duration,
	}
}

// Logger builds a console logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = level > zapcore.DebugLevel
	return zc.Build()
}
