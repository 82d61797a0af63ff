// Package protocol implements the comma-separated text wire format spoken by
// visualization clients.
//
// Inbound control datagram, fields in fixed order:
//
//	throttle,elevator,aileron,rudder,flaps,gear[,mixture[,aileron_trim[,elevator_trim[,rudder_trim]]]]
//
// Outbound state datagram, 18 fields in fixed order:
//
//	lat,lon,alt,phi,theta,psi,u,v,w,p,q,r,alt,vc,mach,alpha,beta,sim_time
//
// Altitude is sent twice. Deployed clients parse positionally and expect the
// second copy, so it stays until they are updated.
package protocol

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/pkg/generic"
)

// State is encoded 60 times a second; reuse the scratch buffers.
var bufferPool = generic.NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 256)) },
	(*bytes.Buffer).Reset,
)

// Delimiter separates the fields of control and state frames.
const Delimiter = ","

const (
	// MinControlFields is the number of mandatory control fields.
	MinControlFields = 6
	// MaxControlFields is the number of control fields the bridge understands.
	MaxControlFields = 10
	// StateFields is the exact number of fields in a state datagram.
	StateFields = 18
)

// ControlFrame is a decoded control datagram. Only the first Count values are
// meaningful.
type ControlFrame struct {
	Values [MaxControlFields]float64
	Count  int
}

// DecodeControls parses a control datagram. Every token must be a finite
// number and at least MinControlFields must be present. Tokens past
// MaxControlFields are validated and ignored.
func DecodeControls(payload []byte) (ControlFrame, error) {
	var frame ControlFrame

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return frame, ErrShortFrame
	}

	tokens := strings.Split(text, Delimiter)
	for i, token := range tokens {
		v, err := parseField(token)
		if err != nil {
			return ControlFrame{}, errors.Wrapf(ErrMalformedFrame, "field %d: %v", i, err)
		}
		if i < MaxControlFields {
			frame.Values[i] = v
		}
	}

	if len(tokens) < MinControlFields {
		return ControlFrame{}, errors.Wrapf(ErrShortFrame, "got %d fields", len(tokens))
	}

	frame.Count = min(len(tokens), MaxControlFields)
	return frame, nil
}

// Apply writes the frame into c. Mandatory fields always overwrite; optional
// fields overwrite only when present so absent ones keep their last value.
func (f ControlFrame) Apply(c *fdm.ControlInputs) {
	if f.Count < MinControlFields {
		return
	}
	c.Throttle = f.Values[0]
	c.Elevator = f.Values[1]
	c.Aileron = f.Values[2]
	c.Rudder = f.Values[3]
	c.Flaps = f.Values[4]
	c.Gear = f.Values[5]

	if f.Count > 6 {
		c.Mixture = f.Values[6]
	}
	if f.Count > 7 {
		c.AileronTrim = f.Values[7]
	}
	if f.Count > 8 {
		c.ElevatorTrim = f.Values[8]
	}
	if f.Count > 9 {
		c.RudderTrim = f.Values[9]
	}
}

// Fields returns the populated values.
func (f ControlFrame) Fields() []float64 {
	return f.Values[:f.Count]
}

// FrameFromControls builds a frame carrying all ten fields of c.
func FrameFromControls(c fdm.ControlInputs) ControlFrame {
	return ControlFrame{
		Values: [MaxControlFields]float64{
			c.Throttle, c.Elevator, c.Aileron, c.Rudder, c.Flaps, c.Gear,
			c.Mixture, c.AileronTrim, c.ElevatorTrim, c.RudderTrim,
		},
		Count: MaxControlFields,
	}
}

// EncodeControls renders the populated fields of f as a control datagram.
func EncodeControls(f ControlFrame) []byte {
	return joinFields(f.Fields())
}

// EncodeState renders s as a state datagram.
func EncodeState(s fdm.AircraftState) []byte {
	return joinFields([]float64{
		s.Lat, s.Lon, s.Alt,
		s.Phi, s.Theta, s.Psi,
		s.U, s.V, s.W,
		s.P, s.Q, s.R,
		s.Alt, s.VC, s.Mach,
		s.Alpha, s.Beta, s.SimTime,
	})
}

// DecodeState parses a state datagram as produced by EncodeState.
func DecodeState(payload []byte) (fdm.AircraftState, error) {
	tokens := strings.Split(strings.TrimSpace(string(payload)), Delimiter)
	if len(tokens) != StateFields {
		return fdm.AircraftState{}, errors.Wrapf(ErrMalformedFrame, "state has %d fields, want %d", len(tokens), StateFields)
	}

	var v [StateFields]float64
	for i, token := range tokens {
		f, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
		if err != nil {
			return fdm.AircraftState{}, errors.Wrapf(ErrMalformedFrame, "field %d: %v", i, err)
		}
		v[i] = f
	}

	// Index 12 repeats altitude and is ignored.
	return fdm.AircraftState{
		Lat: v[0], Lon: v[1], Alt: v[2],
		Phi: v[3], Theta: v[4], Psi: v[5],
		U: v[6], V: v[7], W: v[8],
		P: v[9], Q: v[10], R: v[11],
		VC: v[13], Mach: v[14],
		Alpha: v[15], Beta: v[16],
		SimTime: v[17],
	}, nil
}

func parseField(token string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("non-finite value %q", token)
	}
	return v, nil
}

func joinFields(values []float64) []byte {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	var scratch [32]byte
	for i, v := range values {
		if i > 0 {
			buf.WriteString(Delimiter)
		}
		buf.Write(strconv.AppendFloat(scratch[:0], v, 'f', -1, 64))
	}
	return bytes.Clone(buf.Bytes())
}
