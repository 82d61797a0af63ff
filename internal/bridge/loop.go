// Package bridge runs the fixed-rate step loop that ties a transport to a
// flight dynamics backend.
//
// Each tick receives at most one control datagram, advances the backend by
// one StepInterval and publishes the resulting state to the current client.
// Controls, state and the client address are owned by the loop goroutine.
package bridge

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/config"
	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/observability/metrics"
	"github.com/zeusync/flightbridge/internal/core/protocol"
	"github.com/zeusync/flightbridge/internal/core/transport"
)

type Bridge struct {
	transport transport.Transport
	backend   fdm.Backend
	config    config.LoopConfig
	logger    log.Log

	session  uuid.UUID
	controls fdm.ControlInputs

	client        net.Addr
	clientSession uuid.UUID

	lastFrame    uint64
	hasLastFrame bool

	stats *Stats
}

func New(t transport.Transport, backend fdm.Backend, cfg config.LoopConfig, logger log.Log) *Bridge {
	if logger == nil {
		logger = log.Provide()
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = config.Default().Loop.ReceiveTimeout
	}

	session := uuid.New()
	return &Bridge{
		transport: t,
		backend:   backend,
		config:    cfg,
		logger: logger.With(
			log.String("component", "bridge"),
			log.String("session_id", session.String()),
		),
		session:  session,
		controls: fdm.DefaultControls(),
		stats:    newStats(time.Now()),
	}
}

func (b *Bridge) SessionID() uuid.UUID { return b.session }

// Controls returns the inputs the next tick will apply.
func (b *Bridge) Controls() fdm.ControlInputs { return b.controls }

// Client returns the address state is published to, nil before first contact.
func (b *Bridge) Client() net.Addr { return b.client }

func (b *Bridge) Stats() Snapshot { return b.stats.Snapshot() }

// Metrics exposes the loop counters for export.
func (b *Bridge) Metrics() metrics.Collector { return b.stats.registry }

// Run ticks until ctx is cancelled or the transport is closed underneath it.
// The transport is closed on every return path.
func (b *Bridge) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := b.transport.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close transport")
		}
		b.logger.Info("Bridge stopped", b.stats.Fields()...)
	}()

	b.logger.Info("Bridge running",
		log.String("backend", string(b.backend.Kind())),
		log.String("transport", string(b.transport.Kind())),
		log.Stringer("addr", b.transport.Addr()),
		log.Int("tick_rate", fdm.StepRate),
	)

	timer := time.NewTimer(fdm.StepInterval)
	defer timer.Stop()

	var nextReport time.Time
	if b.config.StatsInterval > 0 {
		nextReport = time.Now().Add(b.config.StatsInterval)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		if err = b.Tick(); err != nil {
			return err
		}

		if !nextReport.IsZero() && start.After(nextReport) {
			b.logger.Info("Bridge stats", b.stats.Fields()...)
			nextReport = start.Add(b.config.StatsInterval)
		}

		remaining := fdm.StepInterval - time.Since(start)
		if remaining <= 0 {
			// Over budget: start the next tick now, no catch-up.
			b.stats.overruns.Inc()
			continue
		}

		timer.Reset(remaining)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one receive, apply, advance and publish cycle. It only fails when
// the transport has been closed.
func (b *Bridge) Tick() error {
	if err := b.receive(); err != nil {
		return err
	}

	b.backend.ApplyControls(b.controls)
	b.backend.Advance(fdm.StepInterval)
	b.stats.ticks.Inc()

	b.publish()
	return nil
}

func (b *Bridge) receive() error {
	d, err := b.transport.TryReceive(b.config.ReceiveTimeout)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrNoData):
		return nil
	case errors.Is(err, transport.ErrTransportClosed):
		return err
	default:
		b.logger.Debug("Receive failed", log.Error(err))
		return nil
	}
	b.stats.framesReceived.Inc()

	frame, err := protocol.DecodeControls(d.Payload)
	if err != nil {
		b.stats.framesRejected.Inc()
		b.logger.Debug("Control frame rejected",
			log.Stringer("remote_addr", d.From), log.Error(err))
		return nil
	}
	frame.Apply(&b.controls)

	fingerprint := xxhash.Sum64(bytes.TrimSpace(d.Payload))
	if b.hasLastFrame && fingerprint == b.lastFrame {
		b.stats.framesRepeated.Inc()
	}
	b.lastFrame, b.hasLastFrame = fingerprint, true

	b.promote(d.From)
	return nil
}

// promote makes addr the output target. Only senders of valid frames are
// promoted, so a stray packet cannot steal the stream.
func (b *Bridge) promote(addr net.Addr) {
	if addr == nil {
		return
	}
	if b.client != nil && b.client.String() == addr.String() {
		return
	}

	previous := b.client
	b.client = addr
	b.clientSession = uuid.New()
	b.stats.clientChanges.Inc()

	fields := []log.Field{
		log.Stringer("remote_addr", addr),
		log.String("client_session_id", b.clientSession.String()),
	}
	if previous != nil {
		fields = append(fields, log.Stringer("previous_addr", previous))
	}
	b.logger.Info("Publishing state to client", fields...)
}

func (b *Bridge) publish() {
	if b.client == nil {
		return
	}
	payload := protocol.EncodeState(b.backend.ReadState())
	if err := b.transport.Send(payload, b.client); err != nil {
		b.stats.sendErrors.Inc()
		b.logger.Debug("State send failed",
			log.Stringer("remote_addr", b.client),
			log.String("client_session_id", b.clientSession.String()),
			log.Error(err))
		return
	}
	b.stats.statesSent.Inc()
}
