package transport

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

var (
	// ErrNoData is returned by TryReceive when the timeout elapsed without a datagram.
	ErrNoData = errors.New("no data")
	// ErrBindFailed wraps any failure to bind the local endpoint.
	ErrBindFailed = errors.New("bind failed")
	// ErrUnknownPeer is returned by Send for an address with no live session.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrTransportClosed is returned after Close.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrUnsupportedKind is returned by New for an unknown Kind.
	ErrUnsupportedKind = errors.New("unsupported transport kind")
)

// Kind selects a Transport implementation.
type Kind string

const (
	KindUDP       Kind = "udp"
	KindQUIC      Kind = "quic"
	KindWebSocket Kind = "websocket"
)

// MaxDatagramSize bounds a single inbound payload.
const MaxDatagramSize = 4096

// Datagram is one inbound message and the address it came from.
type Datagram struct {
	Payload []byte
	From    net.Addr
}

// Transport is a message-oriented endpoint bound to a local address.
//
// Implementations are driven from a single goroutine: TryReceive, Send and
// LastSender are not called concurrently with each other. Close may be
// called from any goroutine.
type Transport interface {
	// TryReceive waits at most timeout for one datagram and returns ErrNoData
	// when none arrived.
	TryReceive(timeout time.Duration) (Datagram, error)
	// Send writes payload to addr once. Failures are reported, never retried.
	Send(payload []byte, addr net.Addr) error
	// LastSender is the source of the most recent datagram, or nil.
	LastSender() net.Addr
	Addr() net.Addr
	Kind() Kind
	Close() error
}

// Config holds the settings shared by every transport kind.
type Config struct {
	Kind Kind   `yaml:"kind"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// QUIC
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	ALPN     string `yaml:"alpn"`

	// WebSocket
	Path string `yaml:"path"`

	// InboxSize bounds buffered datagrams for connection-oriented kinds.
	InboxSize int `yaml:"inbox_size"`
}

func DefaultConfig() Config {
	return Config{
		Kind:      KindUDP,
		Host:      "127.0.0.1",
		Port:      12345,
		ALPN:      "flightbridge",
		Path:      "/ws",
		InboxSize: 64,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// New binds a transport of the configured kind.
func New(cfg Config, logger log.Log) (Transport, error) {
	if logger == nil {
		logger = log.Provide()
	}
	logger = logger.With(log.String("component", "transport"), log.String("kind", string(cfg.Kind)))

	switch cfg.Kind {
	case KindUDP, "":
		return ListenUDP(cfg, logger)
	case KindQUIC:
		return ListenQUIC(cfg, logger)
	case KindWebSocket:
		return ListenWebSocket(cfg, logger)
	default:
		return nil, errors.Wrapf(ErrUnsupportedKind, "%q", cfg.Kind)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
