package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

var _ Transport = (*QUIC)(nil)

// QUIC carries control and state messages as unreliable QUIC datagrams
// (RFC 9221). Every accepted connection gets a reader goroutine that feeds
// the shared inbox; the step loop only touches the inbox.
type QUIC struct {
	listener *quic.Listener
	inbox    *inbox
	sessions *sessions
	last     net.Addr

	cancel context.CancelFunc
	group  *errgroup.Group
	// mu orders session registration against the closed flip in Close.
	mu     sync.Mutex
	closed int32 // atomic bool
	logger log.Log
}

type quicPeer struct {
	conn *quic.Conn
}

func (p quicPeer) send(payload []byte) error { return p.conn.SendDatagram(payload) }

func (p quicPeer) close() error { return p.conn.CloseWithError(0, "bridge shutting down") }

// ListenQUIC starts a QUIC listener with datagram support on cfg.Host:cfg.Port.
func ListenQUIC(cfg Config, logger log.Log) (*QUIC, error) {
	tlsConfig, err := serverTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	quicConfig := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	listener, err := quic.ListenAddr(cfg.Address(), tlsConfig, quicConfig)
	if err != nil {
		return nil, errors.Wrapf(ErrBindFailed, "quic %s: %v", cfg.Address(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	t := &QUIC{
		listener: listener,
		inbox:    newInbox(cfg.InboxSize),
		sessions: newSessions(),
		cancel:   cancel,
		group:    group,
		logger:   logger,
	}
	group.Go(func() error { return t.acceptConnections(gctx) })

	t.logger.Info("QUIC transport listening", log.Stringer("addr", listener.Addr()))
	return t, nil
}

func (t *QUIC) acceptConnections(ctx context.Context) error {
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&t.closed) == 1 {
				return nil
			}
			t.logger.Error("Failed to accept QUIC connection", log.Error(err))
			return err
		}

		if !t.register(ctx, conn) {
			_ = conn.CloseWithError(0, "bridge shutting down")
			return nil
		}
	}
}

// register tracks conn and starts its reader unless Close has begun.
func (t *QUIC) register(ctx context.Context, conn *quic.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadInt32(&t.closed) == 1 {
		return false
	}
	p := quicPeer{conn: conn}
	t.sessions.add(conn.RemoteAddr(), p)
	t.logger.Info("QUIC connection accepted",
		log.Stringer("remote_addr", conn.RemoteAddr()), log.Int("sessions", t.sessions.len()))
	t.group.Go(func() error {
		t.readDatagrams(ctx, conn, p)
		return nil
	})
	return true
}

func (t *QUIC) readDatagrams(ctx context.Context, conn *quic.Conn, p quicPeer) {
	defer t.sessions.remove(conn.RemoteAddr(), p)

	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Debug("QUIC connection ended",
					log.Stringer("remote_addr", conn.RemoteAddr()), log.Error(err))
			}
			return
		}
		if len(data) > MaxDatagramSize {
			continue
		}
		if !t.inbox.push(Datagram{Payload: data, From: conn.RemoteAddr()}) {
			t.logger.Debug("Inbox full, datagram dropped", log.Uint64("dropped", t.inbox.droppedCount()))
		}
	}
}

func (t *QUIC) TryReceive(timeout time.Duration) (Datagram, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return Datagram{}, ErrTransportClosed
	}
	d, err := t.inbox.pop(timeout)
	if err != nil {
		return Datagram{}, err
	}
	t.last = d.From
	return d, nil
}

func (t *QUIC) Send(payload []byte, addr net.Addr) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return ErrTransportClosed
	}
	p, ok := t.sessions.get(addr)
	if !ok {
		return ErrUnknownPeer
	}
	return p.send(payload)
}

func (t *QUIC) LastSender() net.Addr { return t.last }

func (t *QUIC) Addr() net.Addr { return t.listener.Addr() }

func (t *QUIC) Kind() Kind { return KindQUIC }

// Close stops accepting, closes every connection and waits for the reader
// goroutines to exit.
func (t *QUIC) Close() error {
	t.mu.Lock()
	swapped := atomic.CompareAndSwapInt32(&t.closed, 0, 1)
	t.mu.Unlock()
	if !swapped {
		return nil
	}
	t.logger.Info("Closing QUIC transport")

	t.cancel()
	t.inbox.close()
	err := t.listener.Close()
	t.sessions.closeAll()
	if werr := t.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
