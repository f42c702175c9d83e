package reconciler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/events"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
)

// DefaultInterval is the lease reaper period
const DefaultInterval = 10 * time.Second

// Expirer returns tasks with lapsed leases to their queue
type Expirer interface {
	RequeueExpired(ctx context.Context) (int, error)
}

// Reconciler redelivers tasks whose worker disappeared. A worker that
// crashes or hangs never acks or fails its task; once the lease expires
// the task goes back to its queue, or to the dead-letter path when its
// attempts are used up.
type Reconciler struct {
	queue    Expirer
	events   *events.Broker
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler creates a new reconciler. broker may be nil.
func NewReconciler(queue Expirer, broker *events.Broker, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		queue:    queue,
		events:   broker,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one cycle and returns the number of tasks whose lease
// had expired
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.queue.RequeueExpired(ctx)
	if n > 0 {
		r.logger.Warn().Int("tasks", n).Msg("Reclaimed expired leases")
		if r.events != nil {
			r.events.Publish(&events.Event{
				Type:     events.EventTaskRedelivered,
				Message:  "expired leases reclaimed",
				Metadata: map[string]string{"count": strconv.Itoa(n)},
			})
		}
	}
	return n, err
}
