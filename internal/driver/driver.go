// Package driver runs the ingestion pipeline state machine: it pops events,
// computes transitions, publishes every new state and reacts to it by calling
// the data source handler.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/simple-geoindexer/internal/config"
	"github.com/tendant/simple-geoindexer/internal/fsm"
	"github.com/tendant/simple-geoindexer/internal/process"
	"github.com/tendant/simple-geoindexer/internal/sources"
	"github.com/tendant/simple-geoindexer/internal/validate"
	"github.com/tendant/simple-geoindexer/pkg/schema"
)

const instrumentationName = "github.com/tendant/simple-geoindexer/internal/driver"

var (
	// ErrAlreadyRunning is returned when Drive is called while a run is in progress.
	ErrAlreadyRunning = errors.New("driver is already running")
	// ErrFinished is returned when Drive is called after a run completed. A
	// driver serves exactly one run.
	ErrFinished = errors.New("driver already finished its run")
)

// Publisher broadcasts state snapshots. Close is called once when the driving
// loop exits.
type Publisher interface {
	Publish(ctx context.Context, s schema.State) error
	Close() error
}

// ErrorPolicy selects what the driver does after entering an *Error state.
type ErrorPolicy string

const (
	// PolicyReset enqueues Reset so the pipeline returns to NotAvailable.
	PolicyReset ErrorPolicy = "reset"
	// PolicyHalt leaves the error state as the final state of the run.
	PolicyHalt ErrorPolicy = "halt"
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", PolicyReset:
		return PolicyReset, nil
	case PolicyHalt:
		return PolicyHalt, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

const (
	runIdle int32 = iota
	runActive
	runDone
)

// Driver owns the state, the event queue and the resolved handler of a single
// pipeline run.
type Driver struct {
	cfg         config.Pipeline
	handler     sources.Handler
	transformer sources.Transformer
	publisher   Publisher
	probe       validate.Probe
	policy      ErrorPolicy
	logger      *slog.Logger
	now         func() time.Time

	tracer      trace.Tracer
	transitions metric.Int64Counter
	reactions   metric.Float64Histogram

	status atomic.Int32
	mu     sync.Mutex
	state  schema.State
	queue  fsm.Queue
	run    *process.Run
}

type Option func(*Driver)

func WithProbe(p validate.Probe) Option {
	return func(d *Driver) { d.probe = p }
}

func WithErrorPolicy(p ErrorPolicy) Option {
	return func(d *Driver) { d.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithClock replaces time.Now; tests use it to get deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Driver) { d.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Driver) { d.initMetrics(mp.Meter(instrumentationName)) }
}

// New builds a driver for cfg. The handler for cfg.DataSource is looked up
// once here; an unknown source is not an error, it surfaces as a
// DownloadingError when the run starts.
func New(cfg config.Pipeline, registry *sources.Registry, publisher Publisher, opts ...Option) (*Driver, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}

	d := &Driver{
		cfg:       cfg,
		publisher: publisher,
		probe:     validate.Settle{Delay: time.Second},
		policy:    PolicyReset,
		logger:    slog.Default(),
		now:       time.Now,
		state:     schema.NotAvailable(),
		run:       process.NewRun(cfg.DataSource, cfg.Region, cfg.IndexType),
	}
	h, known := registry.Lookup(cfg.DataSource)
	if known {
		d.handler = h
		d.transformer, _ = h.(sources.Transformer)
	}
	for _, opt := range opts {
		opt(d)
	}
	if !known {
		d.logger.Warn("no handler for data source", "data_source", cfg.DataSource, "known", registry.Names())
	}
	if _, err := ParseErrorPolicy(string(d.policy)); err != nil {
		return nil, err
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(instrumentationName)
	}
	if d.transitions == nil {
		d.initMetrics(otel.Meter(instrumentationName))
	}
	d.logger = d.logger.With("run_id", d.run.ID, "data_source", cfg.DataSource, "region", cfg.Region)
	return d, nil
}

func (d *Driver) initMetrics(m metric.Meter) {
	var err error
	d.transitions, err = m.Int64Counter("geoindexer.pipeline.transitions",
		metric.WithDescription("State transitions by resulting state"))
	if err != nil {
		otel.Handle(err)
		d.transitions = noop.Int64Counter{}
	}
	d.reactions, err = m.Float64Histogram("geoindexer.pipeline.reaction.duration",
		metric.WithDescription("Time spent reacting to a state"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
		d.reactions = noop.Float64Histogram{}
	}
}

// RunID identifies this run in logs and published messages.
func (d *Driver) RunID() string { return d.run.ID }

// Run returns a copy of the run bookkeeping record.
func (d *Driver) Run() process.Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.run
}

// State returns the current state. It is safe to call while the run is in progress.
func (d *Driver) State() schema.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the events still queued, front first.
func (d *Driver) Pending() []fsm.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Pending()
}

// Drive seeds the queue with Download and runs until the queue drains or the
// state machine fails.
func (d *Driver) Drive(ctx context.Context) (schema.State, error) {
	return d.DriveFrom(ctx, fsm.Download())
}

// DriveFrom is Drive with explicit seed events. The error is non-nil only
// when publishing fails or ctx is cancelled; pipeline failures are reported
// through the returned state. The publisher is closed before returning.
func (d *Driver) DriveFrom(ctx context.Context, seeds ...fsm.Event) (final schema.State, err error) {
	if !d.status.CompareAndSwap(runIdle, runActive) {
		if d.status.Load() == runDone {
			return d.State(), ErrFinished
		}
		return d.State(), ErrAlreadyRunning
	}
	defer d.status.Store(runDone)

	ctx = process.WithRunID(ctx, d.run.ID)
	d.mu.Lock()
	process.MarkRunning(d.run, d.now())
	for _, e := range seeds {
		d.queue.Push(e)
	}
	d.mu.Unlock()

	d.logger.Info("pipeline starting", "index_type", d.cfg.IndexType, "policy", d.policy)

	defer func() {
		if cerr := d.publisher.Close(); cerr != nil {
			d.logger.Warn("close publisher failed", "err", cerr)
			if err == nil {
				err = fmt.Errorf("close publisher: %w", cerr)
			}
		}
		d.mu.Lock()
		if err != nil {
			process.MarkFailed(d.run, err, d.now())
		} else {
			process.Finish(d.run, final, d.now())
		}
		run := *d.run
		pending := d.queue.Len()
		d.mu.Unlock()
		d.logger.Info("pipeline finished", "state", final.Kind, "status", run.Status,
			"duration", run.Duration(), "pending", pending, "run_error", run.Error, "err", err)
	}()

	for {
		if cerr := ctx.Err(); cerr != nil {
			return d.State(), cerr
		}

		d.mu.Lock()
		e, ok := d.queue.Pop()
		if !ok {
			s := d.state
			d.mu.Unlock()
			return s, nil
		}
		next := fsm.Next(d.state, e, d.now())
		d.state = next
		if next.IsError() {
			process.RecordError(d.run, next.Details)
		}
		d.mu.Unlock()

		d.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(next.Kind))))
		d.logTransition(e, next)

		if perr := d.publisher.Publish(ctx, next); perr != nil {
			return next, fmt.Errorf("publish %s: %w", next.Kind, perr)
		}
		if next.Kind == schema.StateFailure {
			return next, nil
		}

		follow, ok := d.react(ctx, next)
		if ok {
			d.mu.Lock()
			d.queue.Push(follow)
			d.mu.Unlock()
		}
	}
}

func (d *Driver) logTransition(e fsm.Event, s schema.State) {
	switch {
	case s.Kind == schema.StateFailure:
		d.logger.Error("state machine failure", "event", e.Kind, "message", s.Message)
	case s.IsError():
		d.logger.Warn("state changed", "event", e.Kind, "state", s.Kind, "details", s.Details)
	default:
		d.logger.Info("state changed", "event", e.Kind, "state", s.Kind)
	}
}

// Result is what a background run returns.
type Result struct {
	State schema.State
	Err   error
}

// Start runs DriveFrom on its own goroutine and delivers the outcome on the
// returned channel. With no seeds the run starts with Download.
func (d *Driver) Start(ctx context.Context, seeds ...fsm.Event) <-chan Result {
	if len(seeds) == 0 {
		seeds = []fsm.Event{fsm.Download()}
	}
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		s, err := d.DriveFrom(ctx, seeds...)
		out <- Result{State: s, Err: err}
	}()
	return out
}
