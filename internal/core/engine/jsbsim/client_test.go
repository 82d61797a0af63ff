package jsbsim

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

// fakeEngine speaks enough of the input socket protocol for the client.
type fakeEngine struct {
	listener net.Listener

	mu         sync.Mutex
	props      map[string]float64
	commands   []string
	iterations int
	silent     bool
}

func startFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	e := &fakeEngine{
		listener: l,
		props:    map[string]float64{"simulation/sim-time-secs": 0},
	}
	go e.serve()
	t.Cleanup(func() { _ = l.Close() })
	return e
}

func (e *fakeEngine) serve() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}
		go e.handle(conn)
	}
}

func (e *fakeEngine) handle(conn net.Conn) {
	defer conn.Close()
	_, _ = fmt.Fprint(conn, "Connected to JSBSim server\r\nJSBSim> ")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		e.mu.Lock()
		e.commands = append(e.commands, line)
		if e.silent {
			e.mu.Unlock()
			continue
		}
		switch fields[0] {
		case "set":
			var v float64
			_, _ = fmt.Sscanf(fields[2], "%g", &v)
			e.props[fields[1]] = v
			_, _ = fmt.Fprint(conn, "JSBSim> ")
		case "get":
			_, _ = fmt.Fprintf(conn, "JSBSim> %s = %g\r\n", fields[1], e.props[fields[1]])
		case "iterate":
			e.iterations++
			e.props["simulation/sim-time-secs"] += 1.0 / 60.0
			_, _ = fmt.Fprint(conn, "Iterations performed\r\nJSBSim> ")
		default:
			_, _ = fmt.Fprint(conn, "JSBSim> ")
		}
		e.mu.Unlock()
	}
}

func (e *fakeEngine) snapshot() (map[string]float64, []string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	props := make(map[string]float64, len(e.props))
	for k, v := range e.props {
		props[k] = v
	}
	return props, append([]string(nil), e.commands...), e.iterations
}

// silence makes the engine keep reading commands without ever answering.
func (e *fakeEngine) silence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silent = true
}

func connect(t *testing.T, e *fakeEngine) *Client {
	t.Helper()

	c := New(Config{Address: e.listener.Addr().String(), IOTimeout: time.Second}, log.Nop())
	require.NoError(t, c.LoadModel(context.Background(), "c172p"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_LoadModelHoldsSimulation(t *testing.T) {
	e := startFakeEngine(t)
	connect(t, e)

	_, commands, _ := e.snapshot()
	require.NotEmpty(t, commands)
	assert.Equal(t, "hold", commands[0])
	assert.Contains(t, commands, "get simulation/sim-time-secs")
}

func TestClient_SetGetAndRun(t *testing.T) {
	e := startFakeEngine(t)
	c := connect(t, e)

	require.NoError(t, c.SetProperty(fdm.PropThrottle, 0.75))
	v, err := c.GetProperty(fdm.PropThrottle)
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	require.NoError(t, c.Run())
	require.NoError(t, c.Run())
	// The reply to get skips the iterate chatter still in the buffer.
	simTime, err := c.GetProperty("simulation/sim-time-secs")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/60.0, simTime, 1e-9)

	_, _, iterations := e.snapshot()
	assert.Equal(t, 2, iterations)
}

func TestClient_DrivesExternalBackend(t *testing.T) {
	e := startFakeEngine(t)
	c := New(Config{Address: e.listener.Addr().String(), IOTimeout: time.Second}, log.Nop())

	backend := fdm.Select(context.Background(), fdm.DefaultModel, c, fdm.DefaultFallbackConfig(), log.Nop())
	defer backend.Close()
	require.Equal(t, fdm.KindExternal, backend.Kind())

	controls := fdm.DefaultControls()
	controls.Throttle = 0.4
	backend.ApplyControls(controls)
	backend.Advance(fdm.StepInterval)
	state := backend.ReadState()
	assert.InDelta(t, 1.0/60.0, state.SimTime, 1e-9)

	props, _, iterations := e.snapshot()
	assert.Equal(t, 0.4, props[fdm.PropThrottle])
	assert.Equal(t, 1.0, props[fdm.PropGear])
	assert.Equal(t, 1, iterations)
}

func TestClient_SilentEngineKeepsTicksBounded(t *testing.T) {
	e := startFakeEngine(t)
	c := New(Config{Address: e.listener.Addr().String(), IOTimeout: 50 * time.Millisecond}, log.Nop())

	backend := fdm.Select(context.Background(), fdm.DefaultModel, c, fdm.DefaultFallbackConfig(), log.Nop())
	defer backend.Close()
	require.Equal(t, fdm.KindExternal, backend.Kind())
	before := backend.ReadState()

	e.silence()

	start := time.Now()
	for i := 0; i < 3; i++ {
		tick := time.Now()
		backend.ApplyControls(fdm.DefaultControls())
		backend.Advance(fdm.StepInterval)
		assert.Equal(t, before, backend.ReadState())
		// At most one read waits out the I/O timeout.
		assert.Less(t, time.Since(tick), 200*time.Millisecond, "tick %d", i)
	}
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestClient_LoadModelFailures(t *testing.T) {
	c := New(Config{}, log.Nop())
	assert.ErrorIs(t, c.LoadModel(context.Background(), "c172p"), fdm.ErrEngineUnavailable)

	// Nothing listens on a port we just released.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c = New(Config{Address: addr, DialTimeout: 200 * time.Millisecond}, log.Nop())
	assert.Error(t, c.LoadModel(context.Background(), "c172p"))
	assert.ErrorIs(t, c.Run(), ErrNotConnected)
}

func TestClient_SilentPeerTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString(0)
	}()

	c := New(Config{Address: l.Addr().String(), IOTimeout: 50 * time.Millisecond}, log.Nop())
	start := time.Now()
	assert.Error(t, c.LoadModel(context.Background(), "c172p"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParseReply(t *testing.T) {
	v, ok := parseReply("JSBSim> fcs/throttle-cmd-norm = 0.5\r\n", "fcs/throttle-cmd-norm")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)

	_, ok = parseReply("fcs/elevator-cmd-norm = 0.5", "fcs/throttle-cmd-norm")
	assert.False(t, ok)
	_, ok = parseReply("Iterations performed", "fcs/throttle-cmd-norm")
	assert.False(t, ok)
	_, ok = parseReply("fcs/throttle-cmd-norm = nope", "fcs/throttle-cmd-norm")
	assert.False(t, ok)
}
