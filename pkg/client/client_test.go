package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/protocol"
)

func TestClient_SendControlsAndReadState(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.ServerAddr = server.LocalAddr().String()
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	controls := fdm.DefaultControls()
	controls.Throttle = 0.8
	require.NoError(t, c.SendControls(controls))

	buf := make([]byte, 512)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
	n, from, err := server.ReadFromUDP(buf)
	require.NoError(t, err)

	frame, err := protocol.DecodeControls(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, 10, frame.Count)
	assert.Equal(t, 0.8, frame.Values[0])

	// Garbage first; the client skips it and returns the valid state.
	_, err = server.WriteToUDP([]byte("not,a,state"), from)
	require.NoError(t, err)
	_, err = server.WriteToUDP(protocol.EncodeState(fdm.AircraftState{Alt: 1000, SimTime: 2}), from)
	require.NoError(t, err)

	state, err := c.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, state.Alt)
	assert.Equal(t, 2.0, state.SimTime)
}

func TestClient_ReadStateTimesOut(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.ServerAddr = server.LocalAddr().String()
	cfg.ReadTimeout = 20 * time.Millisecond
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReadState()
	assert.ErrorIs(t, err, ErrNoState)
}

func TestClient_Closed(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultClientConfig()
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SendRaw([]byte("x")), ErrClientClosed)
	_, err = c.ReadState()
	assert.ErrorIs(t, err, ErrClientClosed)
}
