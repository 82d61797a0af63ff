package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/flightbridge/internal/bridge"
	"github.com/zeusync/flightbridge/internal/config"
	"github.com/zeusync/flightbridge/internal/core/engine/jsbsim"
	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/transport"
)

var BridgeSet = wire.NewSet(
	ProvideTransport,
	ProvideExec,
	ProvideBackend,
	ProvideLoopConfig,
	bridge.New,
)

func ProvideLogger(cfg config.Config) (*log.Logger, error) {
	return log.NewFromConfig(cfg.Log)
}

// ProvideTransport binds the configured endpoint. The cleanup is a safety
// net for paths where Bridge.Run never starts; closing twice is harmless.
func ProvideTransport(cfg config.Config, logger log.Log) (transport.Transport, func(), error) {
	t, err := transport.New(cfg.Transport, logger)
	if err != nil {
		return nil, nil, err
	}
	return t, func() { _ = t.Close() }, nil
}

// ProvideExec returns nil when no engine address is configured, which makes
// backend selection go straight to the fallback.
func ProvideExec(cfg config.Config, logger log.Log) fdm.Exec {
	if cfg.Engine.Address == "" {
		return nil
	}
	return jsbsim.New(cfg.Engine, logger)
}

func ProvideBackend(ctx context.Context, cfg config.Config, exec fdm.Exec, logger log.Log) (fdm.Backend, func()) {
	backend := fdm.Select(ctx, cfg.Model, exec, cfg.Fallback, logger)
	return backend, func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close backend", log.Error(err))
		}
	}
}

func ProvideLoopConfig(cfg config.Config) config.LoopConfig {
	return cfg.Loop
}
