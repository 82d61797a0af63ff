package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/flightbridge/internal/core/engine/jsbsim"
	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/transport"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is everything the bridge reads at startup. Zero-valued fields in a
// file keep their defaults.
type Config struct {
	Model     string             `yaml:"model"`
	Transport transport.Config   `yaml:"transport"`
	Loop      LoopConfig         `yaml:"loop"`
	Engine    jsbsim.Config      `yaml:"engine"`
	Fallback  fdm.FallbackConfig `yaml:"fallback"`
	Log       log.Config         `yaml:"log"`
}

// LoopConfig tunes the step loop. The tick itself is fixed at fdm.StepRate.
type LoopConfig struct {
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

func Default() Config {
	return Config{
		Model:     fdm.DefaultModel,
		Transport: transport.DefaultConfig(),
		Loop: LoopConfig{
			ReceiveTimeout: 10 * time.Millisecond,
			StatsInterval:  30 * time.Second,
		},
		Engine:   jsbsim.DefaultConfig(),
		Fallback: fdm.DefaultFallbackConfig(),
		Log: log.Config{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err = Decode(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Decode applies YAML data on top of cfg. Unknown keys are rejected so a
// typo does not silently fall back to a default.
func Decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Model == "":
		return errors.Wrap(ErrInvalidConfig, "model must not be empty")
	case c.Transport.Port < 0 || c.Transport.Port > 65535:
		return errors.Wrapf(ErrInvalidConfig, "port %d out of range", c.Transport.Port)
	case c.Transport.Host == "":
		return errors.Wrap(ErrInvalidConfig, "host must not be empty")
	case c.Loop.ReceiveTimeout <= 0 || c.Loop.ReceiveTimeout >= fdm.StepInterval:
		return errors.Wrapf(ErrInvalidConfig, "receive_timeout %s must be positive and shorter than one tick", c.Loop.ReceiveTimeout)
	case c.Loop.StatsInterval < 0:
		return errors.Wrap(ErrInvalidConfig, "stats_interval must not be negative")
	case c.Fallback.MaxSpeed < 0:
		return errors.Wrap(ErrInvalidConfig, "fallback max_speed must not be negative")
	}

	switch c.Transport.Kind {
	case transport.KindUDP, transport.KindQUIC, transport.KindWebSocket:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown transport %q", c.Transport.Kind)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}
