//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/flightbridge/internal/bridge"
	"github.com/zeusync/flightbridge/internal/config"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

func InitializeLogger(cfg config.Config) (*log.Logger, error) {
	wire.Build(ProvideLogger)
	return nil, nil
}

func InitializeBridge(ctx context.Context, cfg config.Config, logger log.Log) (*bridge.Bridge, func(), error) {
	wire.Build(BridgeSet)
	return nil, nil, nil
}
