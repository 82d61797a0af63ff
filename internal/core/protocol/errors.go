package protocol

import "errors"

var (
	// ErrShortFrame is returned for control datagrams with fewer than
	// MinControlFields fields.
	ErrShortFrame = errors.New("control frame too short")
	// ErrMalformedFrame is returned when a field is not a finite number or a
	// state datagram has the wrong shape.
	ErrMalformedFrame = errors.New("malformed frame")
)
