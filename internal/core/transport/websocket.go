package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

var _ Transport = (*WebSocket)(nil)

const wsWriteTimeout = 50 * time.Millisecond

// WebSocket accepts clients that cannot open raw UDP sockets, such as browser
// builds of the visualizer. Each text or binary message is one datagram and
// state is written back as a text message.
type WebSocket struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	inbox    *inbox
	sessions *sessions
	last     net.Addr

	// mu orders readers.Add against the closed flip in Close.
	mu      sync.Mutex
	readers sync.WaitGroup
	served  chan struct{}
	closed  int32 // atomic bool
	logger  log.Log
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *wsPeer) send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *wsPeer) close() error {
	p.writeMu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"))
	p.writeMu.Unlock()
	return p.conn.Close()
}

// ListenWebSocket serves the upgrade endpoint at cfg.Path on cfg.Host:cfg.Port.
func ListenWebSocket(cfg Config, logger log.Log) (*WebSocket, error) {
	listener, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrBindFailed, "websocket %s: %v", cfg.Address(), err)
	}

	path := cfg.Path
	if path == "" {
		path = DefaultConfig().Path
	}

	t := &WebSocket{
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxDatagramSize,
			WriteBufferSize: MaxDatagramSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		inbox:    newInbox(cfg.InboxSize),
		sessions: newSessions(),
		served:   make(chan struct{}),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, t.handleUpgrade)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		defer close(t.served)
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("WebSocket server stopped", log.Error(err))
		}
	}()

	t.logger.Info("WebSocket transport listening",
		log.Stringer("addr", listener.Addr()), log.String("path", path))
	return t, nil
}

func (t *WebSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if atomic.LoadInt32(&t.closed) == 1 {
		t.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	t.readers.Add(1)
	t.mu.Unlock()
	defer t.readers.Done()

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("WebSocket upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(MaxDatagramSize)

	remote := conn.RemoteAddr()
	p := &wsPeer{conn: conn}
	t.sessions.add(remote, p)
	defer t.sessions.remove(remote, p)
	defer conn.Close()

	// Close may have swept the sessions during the upgrade.
	if atomic.LoadInt32(&t.closed) == 1 {
		return
	}

	t.logger.Info("WebSocket client connected",
		log.Stringer("remote_addr", remote), log.Int("sessions", t.sessions.len()))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug("WebSocket client disconnected",
				log.Stringer("remote_addr", remote), log.Error(err))
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if !t.inbox.push(Datagram{Payload: data, From: remote}) {
			t.logger.Debug("Inbox full, message dropped", log.Uint64("dropped", t.inbox.droppedCount()))
		}
	}
}

func (t *WebSocket) TryReceive(timeout time.Duration) (Datagram, error) {
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

func (t *WebSocket) Send(payload []byte, addr net.Addr) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return ErrTransportClosed
	}
	p, ok := t.sessions.get(addr)
	if !ok {
		return ErrUnknownPeer
	}
	return p.send(payload)
}

func (t *WebSocket) LastSender() net.Addr { return t.last }

func (t *WebSocket) Addr() net.Addr { return t.listener.Addr() }

func (t *WebSocket) Kind() Kind { return KindWebSocket }

func (t *WebSocket) Close() error {
	t.mu.Lock()
	swapped := atomic.CompareAndSwapInt32(&t.closed, 0, 1)
	t.mu.Unlock()
	if !swapped {
		return nil
	}
	t.logger.Info("Closing WebSocket transport")

	t.inbox.close()
	// Close does not touch hijacked connections, so peers are closed here.
	err := t.server.Close()
	t.sessions.closeAll()
	t.readers.Wait()
	<-t.served
	return err
}
