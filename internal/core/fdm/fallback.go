package fdm

import (
	"context"
	"math"
	"time"
)

// FallbackConfig holds the gains of the kinematic integrator. None of them
// are physically derived; they only need to look plausible on screen.
type FallbackConfig struct {
	RateGain        float64 `yaml:"rate_gain"`        // rad/s per unit of surface deflection
	MaxSpeed        float64 `yaml:"max_speed"`        // m/s at full throttle
	ClimbThreshold  float64 `yaml:"climb_threshold"`  // throttle that holds altitude
	ClimbRate       float64 `yaml:"climb_rate"`       // m/s per unit of throttle above threshold
	SpeedOfSound    float64 `yaml:"speed_of_sound"`   // m/s
	AeroGain        float64 `yaml:"aero_gain"`        // rad per unit of deflection for alpha/beta
	InitialAltitude float64 `yaml:"initial_altitude"` // m
}

func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		RateGain:        0.06,
		MaxSpeed:        150,
		ClimbThreshold:  0.3,
		ClimbRate:       30,
		SpeedOfSound:    343,
		AeroGain:        0.1,
		InitialAltitude: 1000,
	}
}

var _ Backend = (*Fallback)(nil)

// Fallback is a closed-form kinematic integrator used when no engine is
// available. Under constant input it is monotonic; it is not aerodynamics.
type Fallback struct {
	config   FallbackConfig
	controls ControlInputs
	state    AircraftState
}

func NewFallback(config FallbackConfig) *Fallback {
	if config.SpeedOfSound <= 0 {
		config.SpeedOfSound = DefaultFallbackConfig().SpeedOfSound
	}
	f := &Fallback{config: config, controls: DefaultControls()}
	f.reset()
	return f
}

func (f *Fallback) Kind() Kind { return KindFallback }

func (f *Fallback) Initialize(_ context.Context, _ string) error {
	f.reset()
	return nil
}

func (f *Fallback) reset() {
	f.state = AircraftState{Alt: math.Max(0, f.config.InitialAltitude)}
}

func (f *Fallback) ApplyControls(c ControlInputs) {
	f.controls = c
}

func (f *Fallback) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	secs := dt.Seconds()
	c := f.controls
	s := &f.state

	s.Theta += c.Elevator * f.config.RateGain * secs
	s.Phi += c.Aileron * f.config.RateGain * secs
	s.Psi += c.Rudder * f.config.RateGain * secs

	speed := c.Throttle * f.config.MaxSpeed
	s.U = speed
	s.Alt = math.Max(0, s.Alt+(c.Throttle-f.config.ClimbThreshold)*f.config.ClimbRate*secs)

	s.VC = speed
	s.Mach = speed / f.config.SpeedOfSound
	s.Alpha = c.Elevator * f.config.AeroGain
	s.Beta = c.Aileron * f.config.AeroGain

	s.SimTime += secs
}

func (f *Fallback) ReadState() AircraftState {
	return f.state
}

func (f *Fallback) Close() error { return nil }
