package fdm

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

// DefaultModel is the aircraft loaded when none is configured.
const DefaultModel = "c172p"

// StepRate is the integration rate shared by the step loop and the engine.
const StepRate = 60

// StepInterval is one tick, 1/60 s.
const StepInterval = time.Second / StepRate

var (
	ErrEngineUnavailable = errors.New("flight dynamics engine not configured")
	ErrModelLoad         = errors.New("failed to load aircraft model")
	ErrNotInitialized    = errors.New("backend not initialized")
)

// Kind identifies a Backend variant.
type Kind string

const (
	KindExternal Kind = "external"
	KindFallback Kind = "fallback"
)

// Backend is a flight dynamics model driven one tick at a time.
//
// ApplyControls and Advance are called exactly once per tick, in that order.
// Runtime faults are handled inside the backend; the loop never sees them.
type Backend interface {
	Kind() Kind
	Initialize(ctx context.Context, model string) error
	ApplyControls(c ControlInputs)
	Advance(dt time.Duration)
	ReadState() AircraftState
	Close() error
}

// Select initializes an External backend over exec and falls back to the
// kinematic integrator if that fails for any reason. The choice is final.
func Select(ctx context.Context, model string, exec Exec, fallback FallbackConfig, logger log.Log) Backend {
	if logger == nil {
		logger = log.Provide()
	}
	logger = logger.With(log.String("component", "fdm"), log.String("model", model))

	var external Backend = NewExternal(exec, logger)
	err := external.Initialize(ctx, model)
	if err == nil {
		logger.Info("Flight dynamics engine initialized", log.String("backend", string(KindExternal)))
		return external
	}
	_ = external.Close()

	logger.Warn("Flight dynamics engine unavailable, using kinematic fallback", log.Error(err))

	kinematic := NewFallback(fallback)
	// Fallback initialization cannot fail.
	_ = kinematic.Initialize(ctx, model)
	return kinematic
}
