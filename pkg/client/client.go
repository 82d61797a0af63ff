// Package client is a small UDP client for the flight bridge, used by
// visualizers written in Go and by the end-to-end tests.
package client

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/protocol"
	"github.com/zeusync/flightbridge/internal/core/transport"
)

// Client sends control frames to a bridge and reads the state it publishes.
type Client struct {
	conn   *net.UDPConn
	buf    []byte
	closed int32 // atomic bool

	config Config
	logger log.Log
}

type Config struct {
	ServerAddr     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func DefaultClientConfig() Config {
	return Config{
		ServerAddr:     "127.0.0.1:12345",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    time.Second,
	}
}

// Dial resolves the bridge address and opens a connected UDP socket. No
// packet is exchanged; the bridge learns the client from its first frame.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.ServerAddr == "" {
		return nil, ErrInvalidConfig
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultClientConfig().ReadTimeout
	}
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", config.ServerAddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial bridge %s", config.ServerAddr)
	}

	c := &Client{
		conn:   conn.(*net.UDPConn),
		buf:    make([]byte, transport.MaxDatagramSize),
		config: config,
		logger: log.Provide().With(log.String("component", "client")),
	}
	c.logger.Info("Client ready",
		log.Stringer("local_addr", c.conn.LocalAddr()),
		log.String("server_addr", config.ServerAddr))
	return c, nil
}

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SendControls sends all ten control fields.
func (c *Client) SendControls(controls fdm.ControlInputs) error {
	return c.SendFrame(protocol.FrameFromControls(controls))
}

// SendFrame sends a frame as-is, so callers can leave optional fields out.
func (c *Client) SendFrame(frame protocol.ControlFrame) error {
	return c.SendRaw(protocol.EncodeControls(frame))
}

// SendRaw writes payload unmodified.
func (c *Client) SendRaw(payload []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	_, err := c.conn.Write(payload)
	return err
}

// ReadState waits up to the configured read timeout for the next state
// message. Messages that do not parse are skipped.
func (c *Client) ReadState() (fdm.AircraftState, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fdm.AircraftState{}, ErrClientClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
		return fdm.AircraftState{}, err
	}

	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fdm.AircraftState{}, ErrNoState
			}
			return fdm.AircraftState{}, err
		}
		state, err := protocol.DecodeState(c.buf[:n])
		if err != nil {
			c.logger.Debug("Skipping invalid state message", log.Error(err))
			continue
		}
		return state, nil
	}
}

func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}
