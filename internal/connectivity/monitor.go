// Package connectivity observes network reachability and reports
// transitions. It knows nothing about domain entities; a false positive
// is tolerated because gateway calls still time out and fail normally,
// at which point the coordinator's retry logic takes over.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/okutins/plansync/internal/logging"
)

// Status is the last known reachability of the remote gateway.
type Status int

const (
	Unreachable Status = iota
	Reachable
)

func (s Status) String() string {
	if s == Reachable {
		return "reachable"
	}
	return "unreachable"
}

// ProbeFunc checks reachability; a nil error means reachable. The
// gateway's Ping is the usual probe.
type ProbeFunc func(ctx context.Context) error

// Monitor polls the probe on an interval and publishes transition events
// only — steady state produces no traffic to subscribers, so a drain is
// kicked once per recovery, not once per tick.
type Monitor struct {
	probe        ProbeFunc
	interval     time.Duration
	probeTimeout time.Duration
	logger       logging.Logger

	mu     sync.Mutex
	status Status
	subs   map[int]chan Status
	next   int
}

// New creates a Monitor. The initial status is Unreachable until the
// first successful probe.
func New(probe ProbeFunc, interval time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{
		probe:        probe,
		interval:     interval,
		probeTimeout: 3 * time.Second,
		logger:       logger,
		status:       Unreachable,
		subs:         make(map[int]chan Status),
	}
}

// Status returns the last known reachability.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers a transition observer. The returned cancel func
// releases the subscription.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan Status, 4)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.probe(probeCtx)
	cancel()

	if err != nil {
		m.setStatus(ctx, Unreachable)
	} else {
		m.setStatus(ctx, Reachable)
	}
}

func (m *Monitor) setStatus(ctx context.Context, s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	// Deliver while holding mu: a cancel closes the channel under the
	// same lock, so sending outside it could hit a closed channel.
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// Subscriber is behind; it will catch the next transition.
		}
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info(ctx, "connectivity changed", "status", s.String())
	}
}
