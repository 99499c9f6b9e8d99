package alerts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/riskcast/riskcast/internal/telemetry"
)

const deliverTimeout = 10 * time.Second

// Dispatcher fans alerts out to the sink on a bounded worker pool.
type Dispatcher struct {
	sink       Sink
	deadletter *Deadletter // nil disables
	logger     *slog.Logger
	queue      chan Alert
	workers    int

	started atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a dispatcher. deadletter may be nil.
func NewDispatcher(sink Sink, deadletter *Deadletter, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sink:       sink,
		deadletter: deadletter,
		logger:     logger,
		queue:      make(chan Alert, queueSize),
		workers:    workers,
	}
}

// Start launches the worker pool. Safe to call only once; subsequent calls
// are no-ops and log a warning.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("alerts: Start called more than once, ignoring")
		return
	}
	d.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(loopCtx)
	}
}

// Enqueue submits an alert without blocking. When the queue is full the
// alert is dropped to the dead-letter store and the caller proceeds.
func (d *Dispatcher) Enqueue(a Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	select {
	case d.queue <- a:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alerts: queue full, dropping alert", "kind", a.Kind, "tenant_id", a.TenantID)
		d.toDeadletter(a, "queue full")
	}
}

// Drain stops accepting deliveries, finishes queued alerts and blocks until
// the workers exit or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) {
	close(d.queue)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("alerts: drain timed out")
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for a := range d.queue {
		deliverCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := d.sink.Deliver(deliverCtx, a)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("alerts: delivery failed", "kind", a.Kind, "tenant_id", a.TenantID, "error", err)
			d.toDeadletter(a, err.Error())
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) toDeadletter(a Alert, reason string) {
	if d.deadletter == nil {
		return
	}
	if err := d.deadletter.Save(a, reason); err != nil {
		d.logger.Error("alerts: dead-letter write failed", "kind", a.Kind, "error", err)
	}
}

func (d *Dispatcher) registerMetrics() {
	meter := telemetry.Meter("riskcast/alerts")

	_, _ = meter.Int64ObservableCounter("riskcast.alerts.delivered",
		metric.WithDescription("Alerts delivered to the sink"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(d.delivered.Load())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("riskcast.alerts.failed",
		metric.WithDescription("Alert deliveries that errored"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(d.failed.Load())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("riskcast.alerts.dropped",
		metric.WithDescription("Alerts dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(d.dropped.Load())
			return nil
		}),
	)
}
