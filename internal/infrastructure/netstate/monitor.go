// Package netstate tracks whether the backend is reachable and notifies
// subscribers on every transition.
package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	netMeter           = otel.Meter("expensync/netstate")
	probeTotal, _      = netMeter.Int64Counter("netstate.probe.total", metric.WithDescription("Reachability probes by result"))
	transitionTotal, _ = netMeter.Int64Counter("netstate.transition.total", metric.WithDescription("Online/offline transitions"))
)

// Prober answers one bounded reachability question.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Monitor remembers the last observed state and fans transitions out to
// listeners. Listeners run on the goroutine that observed the change.
type Monitor struct {
	prober   Prober
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	known     bool
	nextID    int
	listeners map[int]func(online bool)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewMonitor(prober Prober, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:    prober,
		timeout:   timeout,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int]func(bool)),
	}
}

// CheckNow probes once within the configured timeout and publishes the
// result if it differs from the last observed state.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	online := m.prober.Probe(ctx)

	result := "offline"
	if online {
		result = "online"
	}
	probeTotal.Add(ctx, 1, metric.WithAttributeSet(resultSet(result)))

	m.Report(online)
	return online
}

// Online returns the last observed state; false before any observation.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report records an externally observed state, for example from an OS
// connectivity hook, and notifies listeners on a transition.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	wasKnown := m.known
	m.online, m.known = online, true

	var listeners []func(bool)
	if changed && wasKnown {
		listeners = make([]func(bool), 0, len(m.listeners))
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	if !changed || !wasKnown {
		return
	}

	m.logger.Info("connectivity changed", "online", online)
	transitionTotal.Add(context.Background(), 1)
	for _, fn := range listeners {
		fn(online)
	}
}

// OnChange registers fn for every transition and returns its unsubscribe.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start polls the prober every interval until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.CheckNow(ctx)
		if m.interval <= 0 {
			return
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop ends polling and waits for the poller to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
