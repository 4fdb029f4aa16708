package client

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Monitor defaults.
const (
	defaultProbeInterval    = 30 * time.Second
	defaultFailureThreshold = 3
	defaultBackoffBase      = 1 * time.Second
	defaultBackoffGrowth    = 1.5
	defaultJitterFraction   = 0.10

	// backoffAttemptCap bounds the backoff exponent so the probe delay
	// stops growing after this many offline attempts.
	backoffAttemptCap = 5

	probeTimeout = 5 * time.Second
)

// MonitorConfig configures a ConnectivityMonitor.
type MonitorConfig struct {
	// ProbeURL is the health endpoint to poll, e.g.
	// "http://127.0.0.1:3000/api/health".
	ProbeURL string

	HTTPClient *http.Client

	// Interval is the probe cadence while the server is reachable.
	Interval time.Duration

	// FailureThreshold is how many consecutive probe failures flip the
	// monitor to offline.
	FailureThreshold int

	// BackoffBase is the first retry delay once offline. Zero uses the
	// default (1s). Subsequent attempts grow geometrically with jitter.
	BackoffBase time.Duration

	// OnOffline fires once per offline transition.
	OnOffline func()

	// OnOnline fires once per recovery.
	OnOnline func()

	Logger *slog.Logger
}

// ConnectivityMonitor polls a health endpoint and reports reachability
// transitions. It is edge-triggered: callbacks fire only when the state
// actually flips, never on every probe.
//
// While offline, probing switches from the fixed interval to exponential
// backoff with jitter so a recovering server is not hammered in lockstep by
// every client at once.
type ConnectivityMonitor struct {
	probeURL    string
	http        *http.Client
	interval    time.Duration
	threshold   int
	backoffBase time.Duration
	onOffline   func()
	onOnline    func()
	logger      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	online   bool
	failures int
	attempt  int
}

// NewMonitor creates a connectivity monitor. It does not start probing
// until Start is called.
func NewMonitor(cfg MonitorConfig) *ConnectivityMonitor {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: probeTimeout}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ConnectivityMonitor{
		probeURL:    cfg.ProbeURL,
		http:        cfg.HTTPClient,
		interval:    cfg.Interval,
		threshold:   cfg.FailureThreshold,
		backoffBase: cfg.BackoffBase,
		onOffline:   cfg.OnOffline,
		onOnline:    cfg.OnOnline,
		logger:      cfg.Logger,
		online:      true,
	}
}

// Start begins probing in a background goroutine. Calling Start on a
// running monitor is a no-op.
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	go m.run(runCtx)
}

// Stop halts probing immediately. Any in-flight probe's outcome is
// discarded; no callbacks fire after Stop returns.
func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

// Online reports the last observed reachability.
func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ConnectivityMonitor) run(ctx context.Context) {
	timer := time.NewTimer(m.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ok := m.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		m.record(ok)
		timer.Reset(m.nextDelay())
	}
}

// probe performs a single health check. Any response at all counts as
// reachable; only transport failures are connectivity failures.
func (m *ConnectivityMonitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusGatewayTimeout
}

// record applies a probe outcome and fires edge callbacks.
func (m *ConnectivityMonitor) record(ok bool) {
	m.mu.Lock()
	var fire func()
	if ok {
		m.failures = 0
		m.attempt = 0
		if !m.online {
			m.online = true
			fire = m.onOnline
			m.logger.Info("server reachable again")
		}
	} else {
		m.failures++
		if m.online && m.failures >= m.threshold {
			m.online = false
			fire = m.onOffline
			m.logger.Warn("server unreachable", "consecutive_failures", m.failures)
		}
		if !m.online {
			m.attempt++
		}
	}
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// nextDelay returns the wait before the next probe: the fixed interval while
// online, exponential backoff with jitter while offline.
func (m *ConnectivityMonitor) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online {
		return m.interval
	}

	attempt := m.attempt
	if attempt > backoffAttemptCap {
		attempt = backoffAttemptCap
	}
	delay := float64(m.backoffBase) * math.Pow(defaultBackoffGrowth, float64(attempt))

	// Spread clients out by +/-10% so they don't all retry in lockstep.
	jitter := delay * defaultJitterFraction * (2*rand.Float64() - 1)
	return time.Duration(delay + jitter)
}
