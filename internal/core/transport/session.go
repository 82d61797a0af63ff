package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// inbox buffers datagrams produced by per-connection reader goroutines until
// the step loop picks them up. When full, new datagrams are dropped.
type inbox struct {
	ch      chan Datagram
	done    chan struct{}
	once    sync.Once
	dropped uint64 // atomic
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = DefaultConfig().InboxSize
	}
	return &inbox{ch: make(chan Datagram, size), done: make(chan struct{})}
}

func (i *inbox) push(d Datagram) bool {
	select {
	case i.ch <- d:
		return true
	default:
		atomic.AddUint64(&i.dropped, 1)
		return false
	}
}

func (i *inbox) pop(timeout time.Duration) (Datagram, error) {
	select {
	case d := <-i.ch:
		return d, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-i.ch:
		return d, nil
	case <-timer.C:
		return Datagram{}, ErrNoData
	case <-i.done:
		return Datagram{}, ErrTransportClosed
	}
}

func (i *inbox) close() {
	i.once.Do(func() { close(i.done) })
}

func (i *inbox) droppedCount() uint64 {
	return atomic.LoadUint64(&i.dropped)
}

// peer is one live connection of a connection-oriented transport.
type peer interface {
	send(payload []byte) error
	close() error
}

// sessions maps a remote address to its connection.
type sessions struct {
	mu    sync.RWMutex
	peers map[string]peer
}

func newSessions() *sessions {
	return &sessions{peers: make(map[string]peer)}
}

func (s *sessions) add(addr net.Addr, p peer) {
	s.mu.Lock()
	s.peers[addr.String()] = p
	s.mu.Unlock()
}

func (s *sessions) remove(addr net.Addr, p peer) {
	s.mu.Lock()
	if cur, ok := s.peers[addr.String()]; ok && cur == p {
		delete(s.peers, addr.String())
	}
	s.mu.Unlock()
}

func (s *sessions) get(addr net.Addr) (peer, bool) {
	if addr == nil {
		return nil, false
	}
	s.mu.RLock()
	p, ok := s.peers[addr.String()]
	s.mu.RUnlock()
	return p, ok
}

func (s *sessions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]peer)
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.close()
	}
}
