package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

var _ Transport = (*UDP)(nil)

// UDP is a plain datagram socket with SO_REUSEADDR set before bind.
type UDP struct {
	conn   *net.UDPConn
	buf    []byte
	last   net.Addr
	closed int32 // atomic bool
	logger log.Log
}

// ListenUDP binds cfg.Host:cfg.Port.
func ListenUDP(cfg Config, logger log.Log) (*UDP, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.Address())
	if err != nil {
		return nil, errors.Wrapf(ErrBindFailed, "udp %s: %v", cfg.Address(), err)
	}

	t := &UDP{
		conn:   pc.(*net.UDPConn),
		buf:    make([]byte, MaxDatagramSize),
		logger: logger,
	}
	t.logger.Info("UDP transport bound", log.Stringer("addr", t.conn.LocalAddr()))
	return t, nil
}

func (t *UDP) TryReceive(timeout time.Duration) (Datagram, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return Datagram{}, ErrTransportClosed
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Datagram{}, errors.Wrap(err, "set read deadline")
	}

	n, from, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		if isTimeout(err) {
			return Datagram{}, ErrNoData
		}
		if atomic.LoadInt32(&t.closed) == 1 {
			return Datagram{}, ErrTransportClosed
		}
		return Datagram{}, errors.Wrap(err, "udp read")
	}

	t.last = from
	payload := make([]byte, n)
	copy(payload, t.buf[:n])
	return Datagram{Payload: payload, From: from}, nil
}

func (t *UDP) Send(payload []byte, addr net.Addr) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return ErrTransportClosed
	}
	if addr == nil {
		return ErrUnknownPeer
	}
	_, err := t.conn.WriteTo(payload, addr)
	return err
}

func (t *UDP) LastSender() net.Addr { return t.last }

func (t *UDP) Addr() net.Addr { return t.conn.LocalAddr() }

func (t *UDP) Kind() Kind { return KindUDP }

func (t *UDP) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.logger.Info("Closing UDP transport")
	return t.conn.Close()
}
