package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
)

// Result represents the outcome of a check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker checks one dependency of the process
type Checker interface {
	// Check performs the check and returns the result
	Check(ctx context.Context) Result

	// Name is the component the result is reported under
	Name() string
}

// Config holds check timing
type Config struct {
	// Interval is the time between checks
	Interval time.Duration

	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before a component
	// is reported unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks consecutive check outcomes of one component
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// Monitor runs checkers periodically and publishes each component's state
// to the process health registry served on /health/components and /ready
type Monitor struct {
	config   Config
	checkers []Checker
	logger   zerolog.Logger

	mu       sync.Mutex
	statuses map[string]*Status

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor over checkers
func NewMonitor(config Config, checkers ...Checker) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retries <= 0 {
		config.Retries = 1
	}
	statuses := make(map[string]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c.Name()] = NewStatus()
	}
	return &Monitor{
		config:   config,
		checkers: checkers,
		logger:   log.WithComponent("health"),
		statuses: statuses,
		stopCh:   make(chan struct{}),
	}
}

// Start checks immediately and then every interval until Stop
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckAll(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckAll(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops checking and waits for a running check to finish
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CheckAll runs every checker once and publishes the results
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, c := range m.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := c.Check(checkCtx)
		cancel()

		m.mu.Lock()
		st := m.statuses[c.Name()]
		wasHealthy := st.Healthy
		st.Update(result, m.config)
		healthy := st.Healthy
		m.mu.Unlock()

		metrics.UpdateComponent(c.Name(), healthy, result.Message)
		if wasHealthy && !healthy {
			m.logger.Warn().Str("check", c.Name()).Str("message", result.Message).Msg("Component unhealthy")
		} else if !wasHealthy && healthy {
			m.logger.Info().Str("check", c.Name()).Msg("Component recovered")
		}
	}
}

// Status returns a copy of the named component's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *st, true
}
