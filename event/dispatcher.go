package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher is a FIFO event queue. Post may be called from any goroutine;
// Pump and Run deliver on the calling goroutine, which becomes the
// application goroutine for every component bound to this dispatcher.
type Dispatcher struct {
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}

	validator *Validator
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithValidator replaces DefaultValidator for destination checks.
func WithValidator(v *Validator) Option {
	return func(d *Dispatcher) {
		d.validator = v
	}
}

// WithLogger sets the logger used for suppressed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		wake:      make(chan struct{}, 1),
		validator: DefaultValidator,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validator returns the registry used for destination checks.
func (d *Dispatcher) Validator() *Validator {
	return d.validator
}

// Metrics returns the dispatcher's prometheus collectors.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Post queues ev for delivery.
func (d *Dispatcher) Post(ev Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.posted.Inc()
	d.metrics.queueDepth.Set(float64(depth))

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// PostAfter posts ev once delay has elapsed. The returned function cancels the
// post if it has not happened yet and reports whether it did so.
func (d *Dispatcher) PostAfter(delay time.Duration, ev Event) (stop func() bool) {
	t := time.AfterFunc(delay, func() { d.Post(ev) })
	return t.Stop
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pump delivers queued events, including any posted during delivery, until
// the queue is empty. It returns the number of events taken off the queue.
func (d *Dispatcher) Pump() int {
	n := 0
	for {
		ev, ok := d.next()
		if !ok {
			return n
		}
		n++
		d.deliver(ev)
	}
}

// Run delivers events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.Pump()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) next() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, false
	}
	ev := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.metrics.queueDepth.Set(float64(len(d.queue)))
	return ev, true
}

func (d *Dispatcher) deliver(ev Event) {
	dest := ev.Receiver()
	if fn, ok := ev.(*Func); ok {
		if dest != nil && !d.validator.IsValid(dest) {
			d.suppress(ev)
			return
		}
		d.metrics.delivered.Inc()
		fn.Fn()
		return
	}
	if dest == nil || !d.validator.IsValid(dest) {
		d.suppress(ev)
		return
	}
	d.metrics.delivered.Inc()
	dest.Receive(ev)
}

func (d *Dispatcher) suppress(ev Event) {
	d.metrics.suppressed.Inc()
	d.logger.Debug("event destination no longer valid", slog.String("event", typeName(ev)))
}
