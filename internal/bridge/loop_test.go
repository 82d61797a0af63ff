package bridge

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/flightbridge/internal/config"
	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/protocol"
	"github.com/zeusync/flightbridge/internal/core/transport"
	"github.com/zeusync/flightbridge/pkg/client"
)

type sent struct {
	payload []byte
	to      net.Addr
}

type fakeTransport struct {
	mu      sync.Mutex
	queue   []transport.Datagram
	sent    []sent
	last    net.Addr
	closed  int
	sendErr error
}

func (f *fakeTransport) push(from net.Addr, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, transport.Datagram{Payload: []byte(payload), From: from})
}

func (f *fakeTransport) TryReceive(time.Duration) (transport.Datagram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return transport.Datagram{}, transport.ErrTransportClosed
	}
	if len(f.queue) == 0 {
		return transport.Datagram{}, transport.ErrNoData
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	f.last = d.From
	return d, nil
}

func (f *fakeTransport) Send(payload []byte, addr net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{payload: payload, to: addr})
	return nil
}

func (f *fakeTransport) LastSender() net.Addr { return f.last }

func (f *fakeTransport) Addr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345} }

func (f *fakeTransport) Kind() transport.Kind { return transport.KindUDP }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) sentCopy() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingBackend publishes the throttle it was given as altitude, so a
// published state shows which inputs produced it.
type recordingBackend struct {
	calls    []string
	controls fdm.ControlInputs
	state    fdm.AircraftState
}

func (r *recordingBackend) Kind() fdm.Kind { return fdm.KindFallback }

func (r *recordingBackend) Initialize(context.Context, string) error { return nil }

func (r *recordingBackend) Close() error { return nil }

func (r *recordingBackend) ApplyControls(c fdm.ControlInputs) {
	r.calls = append(r.calls, "apply")
	r.controls = c
}

func (r *recordingBackend) Advance(dt time.Duration) {
	r.calls = append(r.calls, "advance")
	r.state.Alt = r.controls.Throttle
	r.state.SimTime += dt.Seconds()
}

func (r *recordingBackend) ReadState() fdm.AircraftState {
	r.calls = append(r.calls, "read")
	return r.state
}

// slowBackend takes longer than one step to advance.
type slowBackend struct {
	recordingBackend
	delay time.Duration
}

func (s *slowBackend) Advance(dt time.Duration) {
	time.Sleep(s.delay)
	s.recordingBackend.Advance(dt)
}

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newTestBridge() (*Bridge, *fakeTransport, *recordingBackend) {
	tr := &fakeTransport{}
	backend := &recordingBackend{}
	return New(tr, backend, config.Default().Loop, log.Nop()), tr, backend
}

func TestTick_NoOutputBeforeFirstClient(t *testing.T) {
	b, tr, backend := newTestBridge()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Tick())
	}

	assert.Empty(t, tr.sentCopy())
	assert.Nil(t, b.Client())
	assert.Equal(t, []string{"apply", "advance", "apply", "advance", "apply", "advance"}, backend.calls)
	assert.Equal(t, uint64(3), b.Stats().Ticks)

	exported := map[string]float64{}
	for _, sample := range b.Metrics().Export() {
		exported[sample.Name] = sample.Value
	}
	assert.Equal(t, 3.0, exported["ticks"])
	assert.Zero(t, exported["states_sent"])
	assert.Contains(t, exported, "tick_rate")
	assert.Contains(t, exported, "uptime_seconds")
	assert.Len(t, b.stats.Fields(), len(exported))
}

func TestTick_LatestValidWins(t *testing.T) {
	b, tr, _ := newTestBridge()
	a := udpAddr(5001)

	tr.push(a, "0.5,0.1,-0.1,0,0,1,0.9")
	require.NoError(t, b.Tick())
	before := b.Controls()
	assert.Equal(t, 0.5, before.Throttle)
	assert.Equal(t, 0.9, before.Mixture)

	tr.push(a, "1,1,1,1")
	require.NoError(t, b.Tick())
	tr.push(a, "a,b,c,d,e,f")
	require.NoError(t, b.Tick())

	assert.Equal(t, before, b.Controls())
	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.FramesReceived)
	assert.Equal(t, uint64(2), stats.FramesRejected)
}

func TestTick_OutputGoesToMostRecentValidSender(t *testing.T) {
	b, tr, _ := newTestBridge()
	first, second, stray := udpAddr(5001), udpAddr(5002), udpAddr(5003)

	tr.push(first, "0.1,0,0,0,0,1")
	require.NoError(t, b.Tick())
	tr.push(second, "0.2,0,0,0,0,1")
	require.NoError(t, b.Tick())
	// A malformed packet does not redirect output.
	tr.push(stray, "garbage")
	require.NoError(t, b.Tick())

	out := tr.sentCopy()
	require.Len(t, out, 3)
	assert.Equal(t, first.String(), out[0].to.String())
	assert.Equal(t, second.String(), out[1].to.String())
	assert.Equal(t, second.String(), out[2].to.String())
	assert.Equal(t, second.String(), b.Client().String())
	assert.Equal(t, uint64(2), b.Stats().ClientChanges)
}

func TestTick_PublishedStateUsesSameTickInputs(t *testing.T) {
	b, tr, backend := newTestBridge()
	a := udpAddr(5001)

	for _, throttle := range []string{"0.25", "0.5", "0.75"} {
		tr.push(a, throttle+",0,0,0,0,1")
		require.NoError(t, b.Tick())
	}

	out := tr.sentCopy()
	require.Len(t, out, 3)
	for i, want := range []float64{0.25, 0.5, 0.75} {
		state, err := protocol.DecodeState(out[i].payload)
		require.NoError(t, err)
		assert.Equal(t, want, state.Alt)
		assert.InDelta(t, float64(i+1)/fdm.StepRate, state.SimTime, 1e-6)
	}
	assert.Equal(t, []string{"apply", "advance", "read"}, backend.calls[:3])
}

func TestTick_CountsRepeatedFramesAndSendErrors(t *testing.T) {
	b, tr, _ := newTestBridge()
	a := udpAddr(5001)

	tr.push(a, "0.5,0,0,0,0,1")
	require.NoError(t, b.Tick())
	tr.push(a, "0.5,0,0,0,0,1\n")
	require.NoError(t, b.Tick())
	tr.push(a, "0.6,0,0,0,0,1")
	require.NoError(t, b.Tick())
	assert.Equal(t, uint64(1), b.Stats().FramesRepeated)

	tr.sendErr = assert.AnError
	require.NoError(t, b.Tick())
	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.StatesSent)
	assert.Equal(t, uint64(1), stats.SendErrors)
}

func TestRun_StopsOnCancelAndClosesTransport(t *testing.T) {
	b, tr, _ := newTestBridge()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, tr.closeCount())

	ticks := b.Stats().Ticks
	assert.Greater(t, ticks, uint64(0))
	// Paced at 60 Hz: 100ms is about six ticks, never hundreds.
	assert.Less(t, ticks, uint64(30))
}

func TestRun_OverrunStartsNextTickWithoutCatchUp(t *testing.T) {
	tr := &fakeTransport{}
	backend := &slowBackend{delay: 30 * time.Millisecond}
	b := New(tr, backend, config.Default().Loop, log.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 310*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, b.Run(ctx))
	elapsed := time.Since(start)

	stats := b.Stats()
	assert.Equal(t, stats.Ticks, stats.Overruns, "every tick ran over budget")

	// One tick per slow advance; lost time is never made up with a burst.
	maxTicks := uint64(elapsed/backend.delay) + 1
	assert.LessOrEqual(t, stats.Ticks, maxTicks)
	assert.GreaterOrEqual(t, stats.Ticks, maxTicks/2)
}

func TestRun_ReturnsWhenTransportCloses(t *testing.T) {
	b, tr, _ := newTestBridge()
	require.NoError(t, tr.Close())

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransportClosed)
	assert.Equal(t, 2, tr.closeCount())
}

func TestRun_EndToEndOverUDP(t *testing.T) {
	cfg := transport.DefaultConfig()
	cfg.Port = 0
	tr, err := transport.New(cfg, log.Nop())
	require.NoError(t, err)

	backend := fdm.NewFallback(fdm.DefaultFallbackConfig())
	require.NoError(t, backend.Initialize(context.Background(), fdm.DefaultModel))

	b := New(tr, backend, config.Default().Loop, log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	defer cancel()

	clientCfg := client.DefaultClientConfig()
	clientCfg.ServerAddr = tr.Addr().String()
	c, err := client.Dial(context.Background(), clientCfg)
	require.NoError(t, err)
	defer c.Close()

	controls := fdm.DefaultControls()
	controls.Throttle = 1
	require.NoError(t, c.SendControls(controls))

	var state fdm.AircraftState
	require.Eventually(t, func() bool {
		state, err = c.ReadState()
		return err == nil && state.VC == 150
	}, 3*time.Second, 10*time.Millisecond)

	assert.Greater(t, state.Alt, 1000.0)
	assert.Greater(t, state.SimTime, 0.0)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, c.LocalAddr().String(), b.Client().String())
}
