// Package worker runs blocking work off the dispatcher goroutine.
//
// A Pool owns a fixed number of goroutines fed by a bounded queue. Jobs
// never touch component state; they report back by posting events to a
// dispatcher. The database source runs its connect, query and listing
// commands on a pool so that a slow server never stalls event delivery.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for NewPool.
const (
	DefaultWorkers   = 1
	DefaultQueueSize = 64
)

// Job outcomes recorded by the jobs_total counter.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeDropped = "dropped"
)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// Pool runs jobs of type T. Submit never blocks, so it is safe to call from
// the dispatcher goroutine.
type Pool[T any] struct {
	workers int
	run     func(context.Context, T) error
	jobs    chan T
	metrics *Metrics

	mu    sync.Mutex
	state poolState
	wg    sync.WaitGroup
}

// Metrics holds the pool collectors. They are created unregistered.
type Metrics struct {
	queued   prometheus.Gauge
	busy     prometheus.Gauge
	jobs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics names the collectors namespace_subsystem_*. Without it they
// are named worker_*.
func WithMetrics[T any](namespace, subsystem string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = newMetrics(namespace, subsystem)
	}
}

// NewPool creates an idle pool of workers goroutines with room for
// queueSize waiting jobs. Non-positive sizes select the defaults. run must
// not be nil.
func NewPool[T any](workers, queueSize int, run func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if run == nil {
		panic("worker: nil run function")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Pool[T]{
		workers: workers,
		run:     run,
		jobs:    make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = newMetrics("", "worker")
	}
	return p
}

func newMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queued_jobs",
			Help:      "Jobs waiting for a worker",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "busy_workers",
			Help:      "Workers running a job",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_total",
			Help:      "Jobs by outcome: ok, error or dropped when the queue was full",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Time spent running a job",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.queued, m.busy, m.jobs, m.duration}
}

// Register registers the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register worker metrics: %w", err)
		}
	}
	return nil
}

// Metrics returns the pool collectors.
func (p *Pool[T]) Metrics() *Metrics { return p.metrics }

// Start launches the workers. Jobs run with ctx, and workers leave once it
// is cancelled. Only the first call has any effect.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != poolIdle {
		return
	}
	p.state = poolRunning
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.loop(ctx)
	}
}

// Running reports whether the pool accepts jobs.
func (p *Pool[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == poolRunning
}

// Submit queues job.
func (p *Pool[T]) Submit(job T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != poolRunning {
		return ErrNotRunning
	}
	select {
	case p.jobs <- job:
		p.metrics.queued.Set(float64(len(p.jobs)))
		return nil
	default:
		p.metrics.jobs.WithLabelValues(outcomeDropped).Inc()
		return ErrQueueFull
	}
}

// Stop refuses further jobs and waits up to timeout for the queued ones to
// finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != poolRunning {
		p.state = poolStopped
		p.mu.Unlock()
		return nil
	}
	p.state = poolStopped
	close(p.jobs)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (p *Pool[T]) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.runJob(ctx, job)
		}
	}
}

func (p *Pool[T]) runJob(ctx context.Context, job T) {
	p.metrics.queued.Set(float64(len(p.jobs)))
	p.metrics.busy.Inc()
	defer p.metrics.busy.Dec()

	began := time.Now()
	err := p.run(ctx, job)
	p.metrics.duration.Observe(time.Since(began).Seconds())
	if err != nil {
		p.metrics.jobs.WithLabelValues(outcomeError).Inc()
		return
	}
	p.metrics.jobs.WithLabelValues(outcomeOK).Inc()
}
