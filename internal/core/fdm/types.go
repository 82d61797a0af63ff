package fdm

// ControlInputs is the latest accepted set of pilot inputs. Surfaces are
// normalized, conventionally [0,1] or [-1,1].
type ControlInputs struct {
	Throttle float64 `json:"throttle"`
	Elevator float64 `json:"elevator"`
	Aileron  float64 `json:"aileron"`
	Rudder   float64 `json:"rudder"`
	Flaps    float64 `json:"flaps"`
	Gear     float64 `json:"gear"`

	Mixture      float64 `json:"mixture"`
	AileronTrim  float64 `json:"aileronTrim"`
	ElevatorTrim float64 `json:"elevatorTrim"`
	RudderTrim   float64 `json:"rudderTrim"`
}

// DefaultControls returns the startup inputs: everything neutral, gear down.
func DefaultControls() ControlInputs {
	return ControlInputs{Gear: 1.0}
}

// AircraftState is a snapshot of the vehicle produced by a Backend.
type AircraftState struct {
	Lat float64 `json:"lat"` // degrees
	Lon float64 `json:"lon"` // degrees
	Alt float64 `json:"alt"` // meters above sea level

	// Euler attitude, radians
	Phi   float64 `json:"phi"`
	Theta float64 `json:"theta"`
	Psi   float64 `json:"psi"`

	// Body-frame velocities, m/s
	U float64 `json:"u"`
	V float64 `json:"v"`
	W float64 `json:"w"`

	// Body angular rates, rad/s
	P float64 `json:"p"`
	Q float64 `json:"q"`
	R float64 `json:"r"`

	VC    float64 `json:"vc"` // calibrated airspeed, m/s
	Mach  float64 `json:"mach"`
	Alpha float64 `json:"alpha"` // radians
	Beta  float64 `json:"beta"`  // radians

	SimTime float64 `json:"simTime"` // seconds
}
