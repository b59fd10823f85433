package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/billingkit/entitlements/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Connector is the slice of the billing client the supervisor drives.
type Connector interface {
	StartConnection()
	IsReady() bool
}

// Supervisor owns the billing service connection lifecycle: it wraps
// tasks in an ensure-connected gate and retries lost connections with
// bounded exponential backoff.
//
// The retry policy is additive-only. It makes one reconnection attempt
// per disconnect, backing off until the attempt cap, and then goes
// silent; externally triggered connection attempts are never blocked or
// replaced. Exhaustion is not an error: the next external trigger (a
// reconcile tick, an API call) retries naturally.
type Supervisor struct {
	client     Connector
	maxRetry   int32
	baseDelay  time.Duration
	graceDelay time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger

	// attempt starts at 1 and is reset to 1 only when a connection is
	// confirmed established.
	attempt atomic.Int32

	mu      sync.Mutex
	pending []*queuedTask
	closed  bool
}

type queuedTask struct {
	run   func(ctx context.Context)
	ctx   context.Context
	timer *time.Timer
	done  bool
}

func NewSupervisor(client Connector, maxRetry int, baseDelay, graceDelay time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		client:     client,
		maxRetry:   int32(maxRetry),
		baseDelay:  baseDelay,
		graceDelay: graceDelay,
		metrics:    metrics,
		logger:     logger,
	}
	s.attempt.Store(1)
	return s
}

// EnsureConnectedThen runs task once the billing connection is usable.
// If the connection is live the task runs immediately on its own
// goroutine. Otherwise the task is queued, a connection is requested, and
// the task runs when the connected event fires — or when the grace delay
// expires, whichever comes first. The grace delay is a fallback timeout,
// not the primary trigger: a connection that is still down when it fires
// surfaces as billing-not-ready errors inside the task, which the next
// trigger retries.
func (s *Supervisor) EnsureConnectedThen(ctx context.Context, task func(ctx context.Context)) {
	if s.client.IsReady() {
		go task(ctx)
		return
	}

	qt := &queuedTask{run: task, ctx: ctx}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, qt)
	qt.timer = time.AfterFunc(s.graceDelay, func() {
		s.fire(qt, "fallback")
	})
	s.mu.Unlock()

	s.logger.Debug().Msg("billing not ready, queued task and requested connection")
	s.client.StartConnection()
}

// HandleConnected is the connection-established notification. It resets
// the retry counter and releases every queued task.
func (s *Supervisor) HandleConnected() {
	s.attempt.Store(1)
	if s.metrics != nil {
		s.metrics.ConnectionResets.Inc()
	}
	s.logger.Debug().Msg("billing connection established")

	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, qt := range tasks {
		s.fire(qt, "connected")
	}
}

// HandleDisconnected is the connection-lost notification. It schedules
// one reconnection attempt with exponential backoff, or goes silent once
// the attempt cap is reached.
func (s *Supervisor) HandleDisconnected() {
	counter := s.attempt.Add(1) - 1
	if counter >= s.maxRetry {
		if s.metrics != nil {
			s.metrics.ConnectionGiveUps.Inc()
		}
		s.logger.Warn().Int32("attempt", counter).Msg("billing reconnect attempts exhausted, waiting for external trigger")
		return
	}

	wait := s.baseDelay * time.Duration(1<<uint(counter))
	if s.metrics != nil {
		s.metrics.ConnectionRetries.Inc()
	}
	s.logger.Debug().Int32("attempt", counter).Dur("wait", wait).Msg("scheduling billing reconnect")

	time.AfterFunc(wait, func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.client.StartConnection()
		}
	})
}

// Attempt returns the current retry attempt counter.
func (s *Supervisor) Attempt() int {
	return int(s.attempt.Load())
}

// Shutdown cancels queued tasks and stops accepting new ones.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, qt := range s.pending {
		qt.done = true
		if qt.timer != nil {
			qt.timer.Stop()
		}
	}
	s.pending = nil
}

// fire runs a queued task exactly once, whichever trigger wins.
func (s *Supervisor) fire(qt *queuedTask, trigger string) {
	s.mu.Lock()
	if qt.done {
		s.mu.Unlock()
		return
	}
	qt.done = true
	if qt.timer != nil {
		qt.timer.Stop()
	}
	for i, p := range s.pending {
		if p == qt {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.QueuedTaskFlushes.WithLabelValues(trigger).Inc()
	}
	go qt.run(qt.ctx)
}
