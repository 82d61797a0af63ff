package bridge

import (
	"time"

	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/observability/metrics"
)

// Stats counts what the loop did. The counters live in a metrics registry, so
// Snapshot and Fields can be taken from outside the loop goroutine.
type Stats struct {
	registry *metrics.Registry

	ticks          metrics.Counter
	overruns       metrics.Counter
	framesReceived metrics.Counter
	framesRejected metrics.Counter
	framesRepeated metrics.Counter
	statesSent     metrics.Counter
	sendErrors     metrics.Counter
	clientChanges  metrics.Counter
	startTime      time.Time
}

func newStats(start time.Time) *Stats {
	r := metrics.NewRegistry()
	s := &Stats{
		registry:       r,
		ticks:          r.Counter("ticks"),
		overruns:       r.Counter("overruns"),
		framesReceived: r.Counter("frames_received"),
		framesRejected: r.Counter("frames_rejected"),
		framesRepeated: r.Counter("frames_repeated"),
		statesSent:     r.Counter("states_sent"),
		sendErrors:     r.Counter("send_errors"),
		clientChanges:  r.Counter("client_changes"),
		startTime:      start,
	}
	r.RegisterCallback("uptime_seconds", func() float64 { return s.uptime().Seconds() })
	r.RegisterCallback("tick_rate", func() float64 { return s.Snapshot().TickRate() })
	return s
}

func (s *Stats) uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

type Snapshot struct {
	Ticks          uint64
	Overruns       uint64
	FramesReceived uint64
	FramesRejected uint64
	FramesRepeated uint64
	StatesSent     uint64
	SendErrors     uint64
	ClientChanges  uint64
	Uptime         time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Ticks:          s.ticks.Value(),
		Overruns:       s.overruns.Value(),
		FramesReceived: s.framesReceived.Value(),
		FramesRejected: s.framesRejected.Value(),
		FramesRepeated: s.framesRepeated.Value(),
		StatesSent:     s.statesSent.Value(),
		SendErrors:     s.sendErrors.Value(),
		ClientChanges:  s.clientChanges.Value(),
		Uptime:         s.uptime(),
	}
}

// Fields exports every registered metric as a log field.
func (s *Stats) Fields() []log.Field {
	samples := s.registry.Export()
	fields := make([]log.Field, 0, len(samples))
	for _, sample := range samples {
		fields = append(fields, log.Float64(sample.Name, sample.Value))
	}
	return fields
}

// TickRate is the achieved loop rate since start.
func (s Snapshot) TickRate() float64 {
	if s.Uptime <= 0 {
		return 0
	}
	return float64(s.Ticks) / s.Uptime.Seconds()
}
