// Package traverser explores the reachable states of an executable model with a pool
// of concurrent workers and hands the discovered transitions to the registered actions.
package traverser

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"probmc/builder"
	"probmc/model"
	"probmc/scheduler"
	"probmc/state"
	"probmc/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("probmc/traverser")

type Phase int32

const (
	Idle Phase = iota
	Seeding
	Traversing
	Finalizing
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Seeding:
		return "seeding"
	case Traversing:
		return "traversing"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

type Config struct {
	// Creates the model instance of every worker
	Factory model.Factory
	// The storage shared by all workers. Must be empty.
	Storage storage.StateStorage
	Actions builder.Actions

	// Number of concurrent workers. 1 expands the states sequentially
	WorkerCount int
	Order       scheduler.Order

	// Interval of the progress reports. No reports are made if it is 0
	ProgressInterval time.Duration

	// Defaults to slog.Default()
	Logger *slog.Logger
	// Registers the traversal metrics. Metrics are not registered if it is nil
	Registerer prometheus.Registerer
}

// Summary of a completed traversal
type Result struct {
	RunID       uuid.UUID
	States      int
	Transitions int
	// Indices of the initial states, sorted ascending
	Initial []int
	// The states whose expansion failed, sorted by index
	Faults      []*model.ExecutionFault
	MemoryUsage uint64
	Duration    time.Duration
}

// Returns a FaultsError if the model failed in some state
func (r *Result) FaultError() error {
	if len(r.Faults) == 0 {
		return nil
	}
	return FaultsError{Faults: r.Faults}
}

// Explores the state space of a model.
//
// A Traverser can only be used for a single traversal.
type Traverser struct {
	cfg    Config
	logger *slog.Logger
	runID  uuid.UUID

	phase atomic.Int32

	frontier   *scheduler.Frontier
	vectorSize int
	labelNames []string
	labelIndex map[string]int

	states      atomic.Int64
	transitions atomic.Int64

	mu     sync.Mutex
	faults []*model.ExecutionFault

	metrics *metrics
}

func New(cfg Config) (*Traverser, error) {
	if cfg.Factory == nil {
		return nil, errors.New("traverser: a model factory is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("traverser: a state storage is required")
	}
	if cfg.Storage.Len() != 0 {
		return nil, errors.New("traverser: the state storage must be empty")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("traverser: invalid worker count %v", cfg.WorkerCount)
	}
	if cfg.ProgressInterval < 0 {
		return nil, fmt.Errorf("traverser: invalid progress interval %v", cfg.ProgressInterval)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := cfg.Factory()
	if m == nil {
		return nil, errors.New("traverser: the model factory returned nil")
	}
	defer release(m, logger)
	if m.StateVectorSize() <= 0 {
		return nil, fmt.Errorf("traverser: invalid state vector size %v", m.StateVectorSize())
	}
	names := m.Labels()
	if len(names) > state.MaxLabels {
		return nil, fmt.Errorf("traverser: %v labels exceed the maximum of %v", len(names), state.MaxLabels)
	}
	labelIndex := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := labelIndex[name]; ok {
			return nil, fmt.Errorf("traverser: duplicate label %q", name)
		}
		labelIndex[name] = i
	}

	runID := uuid.New()
	t := &Traverser{
		cfg:        cfg,
		logger:     logger.With("run", runID.String()),
		runID:      runID,
		frontier:   scheduler.NewFrontier(cfg.Order),
		vectorSize: m.StateVectorSize(),
		labelNames: names,
		labelIndex: labelIndex,
	}
	var reg prometheus.Registerer
	if cfg.Registerer != nil {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"run": runID.String()}, cfg.Registerer)
	}
	t.metrics = newMetrics(reg)
	return t, nil
}

func (t *Traverser) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Traverser) setPhase(p Phase) {
	t.phase.Store(int32(p))
	t.logger.Debug("Traversal phase", "phase", p)
}

// The labels of the model in the order used by the label sets of the transitions
func (t *Traverser) LabelNames() []string {
	return append([]string{}, t.labelNames...)
}

// Explore all states reachable from the initial states of the model.
//
// Returns ErrCancelled if ctx is done before the traversal completes. No partial result is returned.
// Capacity exhaustion and failing actions abort the traversal with a *FatalError.
// Faults of the model in a single state do not abort the traversal, they are reported in the Result.
func (t *Traverser) Traverse(ctx context.Context) (*Result, error) {
	if !t.phase.CompareAndSwap(int32(Idle), int32(Seeding)) {
		return nil, errors.New("traverser: a Traverser can only be used once")
	}
	ctx, span := tracer.Start(ctx, "traverser.Traverse",
		trace.WithAttributes(
			attribute.String("traversal.run", t.runID.String()),
			attribute.Int("traversal.workers", t.cfg.WorkerCount),
		),
	)
	defer span.End()

	result, err := t.traverse(ctx)
	var fe *FatalError
	if errors.As(err, &fe) {
		fe.States = int(t.states.Load())
		fe.Transitions = int(t.transitions.Load())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error("Traversal failed", "err", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("traversal.states", result.States),
		attribute.Int("traversal.transitions", result.Transitions),
	)
	return result, nil
}

func (t *Traverser) traverse(ctx context.Context) (*Result, error) {
	start := time.Now()
	t.logger.Debug("Traversal started", "phase", Seeding)

	workers := make([]*worker, 0, t.cfg.WorkerCount)
	defer func() {
		for _, w := range workers {
			release(w.m, t.logger)
		}
	}()
	for i := range t.cfg.WorkerCount {
		w, err := newWorker(i, t)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}

	initial, err := t.seed(ctx, workers[0])
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	t.setPhase(Traversing)
	g, gctx := errgroup.WithContext(ctx)
	// The first failing worker cancels the others through the frontier
	stop := context.AfterFunc(gctx, t.frontier.Cancel)
	defer stop()

	if t.cfg.ProgressInterval > 0 {
		progressCtx, cancelProgress := context.WithCancel(ctx)
		defer cancelProgress()
		go t.reportProgress(progressCtx, t.cfg.ProgressInterval)
	}

	for _, w := range workers {
		g.Go(w.run)
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, scheduler.CancelledError) {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
		return nil, err
	}

	if err := t.finalize(ctx); err != nil {
		return nil, err
	}
	t.setPhase(Done)

	duration := time.Since(start)
	t.metrics.duration.Observe(duration.Seconds())
	t.metrics.inFlight.Set(0)

	t.mu.Lock()
	faults := append([]*model.ExecutionFault{}, t.faults...)
	t.mu.Unlock()
	sort.Slice(faults, func(i, j int) bool { return faults[i].Index < faults[j].Index })

	result := &Result{
		RunID:       t.runID,
		States:      int(t.states.Load()),
		Transitions: int(t.transitions.Load()),
		Initial:     initial,
		Faults:      faults,
		MemoryUsage: t.cfg.Storage.MemoryUsage(),
		Duration:    duration,
	}
	t.logProgress("Traversal completed")
	return result, nil
}

// Enumerate the initial states, insert them into the storage and add them to the frontier
func (t *Traverser) seed(ctx context.Context, w *worker) ([]int, error) {
	_, span := tracer.Start(ctx, "traverser.seed")
	defer span.End()

	leaves, err := w.enumerate(state.InitialSource, nil)
	if err != nil {
		return nil, &FatalError{Index: state.InitialSource, Err: err}
	}
	batch := &state.Batch{Source: state.InitialSource}
	newItems, err := w.process(batch, leaves)
	if err != nil {
		return nil, err
	}
	t.frontier.Push(newItems...)

	initial := []int{}
	for _, tr := range batch.Transitions {
		initial = append(initial, tr.Target)
	}
	slices.Sort(initial)
	initial = slices.Compact(initial)
	span.SetAttributes(attribute.Int("traversal.initial_states", len(initial)))
	t.logger.Debug("Seeded initial states", "states", len(initial))
	return initial, nil
}

// Run the finalizers of the actions
func (t *Traverser) finalize(ctx context.Context) error {
	t.setPhase(Finalizing)
	_, span := tracer.Start(ctx, "traverser.finalize")
	defer span.End()

	for _, f := range t.cfg.Actions.Finalizers {
		if err := f.Finalize(); err != nil {
			return &FatalError{Index: state.InitialSource, Err: fmt.Errorf("finalize %T: %w", f, err)}
		}
	}
	return nil
}

func (t *Traverser) recordFault(fault *model.ExecutionFault) {
	t.mu.Lock()
	t.faults = append(t.faults, fault)
	t.mu.Unlock()
	t.metrics.faults.Inc()
	t.logger.Warn("Model execution fault",
		"state", fault.Index,
		"vector", hex.EncodeToString(fault.State),
		"path", fault.Path,
		"err", fault.Err,
	)
	if fault.Stack != nil {
		t.logger.Debug("Model panic stack trace", "state", fault.Index, "stack", string(fault.Stack))
	}
}

func (t *Traverser) addTransitions(n int) {
	t.transitions.Add(int64(n))
	t.metrics.transitions.Add(float64(n))
}

func (t *Traverser) addState() {
	t.metrics.states.Set(float64(t.states.Add(1)))
}

func release(m model.ExecutableModel, logger *slog.Logger) {
	if err := model.Release(m); err != nil {
		logger.Warn("Closing a model instance failed", "err", err)
	}
}
