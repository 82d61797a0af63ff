package fdm

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

// Exec is the property-level surface of a full flight dynamics engine. The
// engine's internals are opaque; only named properties cross this boundary.
type Exec interface {
	LoadModel(ctx context.Context, model string) error
	SetDT(dt time.Duration) error
	RunIC() error
	Run() error
	SetProperty(name string, value float64) error
	GetProperty(name string) (float64, error)
	Close() error
}

const (
	feetToMeters = 0.3048
	degToRad     = math.Pi / 180.0
)

// Property names written on every tick.
const (
	PropThrottle     = "fcs/throttle-cmd-norm"
	PropElevator     = "fcs/elevator-cmd-norm"
	PropAileron      = "fcs/aileron-cmd-norm"
	PropRudder       = "fcs/rudder-cmd-norm"
	PropFlaps        = "fcs/flap-cmd-norm"
	PropGear         = "gear/gear-cmd-norm"
	PropMixture      = "fcs/mixture-cmd-norm"
	PropAileronTrim  = "fcs/roll-trim-cmd-norm"
	PropElevatorTrim = "fcs/pitch-trim-cmd-norm"
	PropRudderTrim   = "fcs/yaw-trim-cmd-norm"
)

type controlBinding struct {
	property string
	value    func(c *ControlInputs) float64
}

var controlBindings = []controlBinding{
	{PropThrottle, func(c *ControlInputs) float64 { return c.Throttle }},
	{PropElevator, func(c *ControlInputs) float64 { return c.Elevator }},
	{PropAileron, func(c *ControlInputs) float64 { return c.Aileron }},
	{PropRudder, func(c *ControlInputs) float64 { return c.Rudder }},
	{PropFlaps, func(c *ControlInputs) float64 { return c.Flaps }},
	{PropGear, func(c *ControlInputs) float64 { return c.Gear }},
	{PropMixture, func(c *ControlInputs) float64 { return c.Mixture }},
	{PropAileronTrim, func(c *ControlInputs) float64 { return c.AileronTrim }},
	{PropElevatorTrim, func(c *ControlInputs) float64 { return c.ElevatorTrim }},
	{PropRudderTrim, func(c *ControlInputs) float64 { return c.RudderTrim }},
}

type stateBinding struct {
	property string
	scale    float64
	field    func(s *AircraftState) *float64
}

var stateBindings = []stateBinding{
	{"position/lat-gc-deg", 1, func(s *AircraftState) *float64 { return &s.Lat }},
	{"position/long-gc-deg", 1, func(s *AircraftState) *float64 { return &s.Lon }},
	{"position/h-sl-ft", feetToMeters, func(s *AircraftState) *float64 { return &s.Alt }},
	{"attitude/phi-rad", 1, func(s *AircraftState) *float64 { return &s.Phi }},
	{"attitude/theta-rad", 1, func(s *AircraftState) *float64 { return &s.Theta }},
	{"attitude/psi-rad", 1, func(s *AircraftState) *float64 { return &s.Psi }},
	{"velocities/u-fps", feetToMeters, func(s *AircraftState) *float64 { return &s.U }},
	{"velocities/v-fps", feetToMeters, func(s *AircraftState) *float64 { return &s.V }},
	{"velocities/w-fps", feetToMeters, func(s *AircraftState) *float64 { return &s.W }},
	{"velocities/p-rad_sec", 1, func(s *AircraftState) *float64 { return &s.P }},
	{"velocities/q-rad_sec", 1, func(s *AircraftState) *float64 { return &s.Q }},
	{"velocities/r-rad_sec", 1, func(s *AircraftState) *float64 { return &s.R }},
	{"velocities/vc-fps", feetToMeters, func(s *AircraftState) *float64 { return &s.VC }},
	{"velocities/mach", 1, func(s *AircraftState) *float64 { return &s.Mach }},
	{"aero/alpha-deg", degToRad, func(s *AircraftState) *float64 { return &s.Alpha }},
	{"aero/beta-deg", degToRad, func(s *AircraftState) *float64 { return &s.Beta }},
	{"simulation/sim-time-secs", 1, func(s *AircraftState) *float64 { return &s.SimTime }},
}

var _ Backend = (*External)(nil)

// EngineRetryInterval is how long External holds its last state after an
// engine call fails before it talks to the engine again.
const EngineRetryInterval = time.Second

// External delegates to a full engine through Exec.
//
// The first failed engine call in a tick ends engine I/O for that tick and
// for EngineRetryInterval after it.
type External struct {
	exec   Exec
	logger log.Log
	now    func() time.Time

	ready      bool
	stale      bool
	state      AircraftState
	faultUntil time.Time
}

func NewExternal(exec Exec, logger log.Log) *External {
	if logger == nil {
		logger = log.Provide()
	}
	return &External{
		exec:   exec,
		logger: logger.With(log.String("backend", string(KindExternal))),
		now:    time.Now,
	}
}

func (e *External) Kind() Kind { return KindExternal }

// Initialize loads model at the fixed engine timestep and runs the initial
// conditions. Any failure leaves the backend unusable.
func (e *External) Initialize(ctx context.Context, model string) error {
	if e.exec == nil {
		return ErrEngineUnavailable
	}
	if err := e.exec.LoadModel(ctx, model); err != nil {
		return errors.Wrapf(ErrModelLoad, "%s: %v", model, err)
	}
	if err := e.exec.SetDT(StepInterval); err != nil {
		return errors.Wrap(err, "set engine timestep")
	}
	if err := e.exec.RunIC(); err != nil {
		return errors.Wrap(err, "run initial conditions")
	}
	e.ready = true

	state, err := e.readAll()
	if err != nil {
		e.fault(err)
		return nil
	}
	e.state = state
	return nil
}

func (e *External) ApplyControls(c ControlInputs) {
	if !e.available() {
		return
	}
	for _, b := range controlBindings {
		if err := e.exec.SetProperty(b.property, b.value(&c)); err != nil {
			e.fault(errors.Wrapf(err, "set %s", b.property))
			return
		}
	}
}

// Advance runs as many fixed engine steps as fit in dt, at least one.
func (e *External) Advance(dt time.Duration) {
	if !e.available() {
		return
	}
	steps := int(math.Round(float64(dt) / float64(StepInterval)))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if err := e.exec.Run(); err != nil {
			e.fault(errors.Wrap(err, "engine step"))
			return
		}
	}
	e.stale = true
}

// ReadState reads the engine lazily, once per advanced tick. While the engine
// is faulted the last good state is returned unchanged.
func (e *External) ReadState() AircraftState {
	if !e.stale || !e.available() {
		return e.state
	}
	state, err := e.readAll()
	if err != nil {
		e.fault(err)
		return e.state
	}
	e.state = state
	e.stale = false
	return e.state
}

// readAll converts engine properties into the canonical units. It stops at
// the first failed read; a partial state is never returned.
func (e *External) readAll() (AircraftState, error) {
	var next AircraftState
	for _, b := range stateBindings {
		v, err := e.exec.GetProperty(b.property)
		if err != nil {
			return e.state, errors.Wrapf(err, "get %s", b.property)
		}
		*b.field(&next) = v * b.scale
	}
	return next, nil
}

func (e *External) available() bool {
	return e.ready && !e.now().Before(e.faultUntil)
}

func (e *External) fault(err error) {
	e.faultUntil = e.now().Add(EngineRetryInterval)
	e.logger.Warn("Engine call failed, holding last state",
		log.Error(err), log.Duration("retry_in", EngineRetryInterval))
}

func (e *External) Close() error {
	e.ready = false
	if e.exec == nil {
		return nil
	}
	return e.exec.Close()
}
