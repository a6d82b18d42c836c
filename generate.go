// Package probmc generates Markov chains and Markov decision processes from executable
// models and checks probabilistic properties on them.
//
// A model is explored by a concurrent traversal that assigns every reachable state a dense
// index. The discovered transitions are turned into a frozen state space that is analysed
// by the checking package.
package probmc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"probmc/builder"
	"probmc/config"
	"probmc/model"
	"probmc/state"
	"probmc/storage"
	"probmc/traverser"
)

// The outcome of the traversal that generated a state space
type Report struct {
	*traverser.Result
	LabelNames []string
	// States whose outgoing probability mass does not sum to one
	Unnormalized []builder.UnnormalizedState
}

// Explore the model and build its Markov chain.
//
// Nondeterministic choices are only allowed when selecting the initial state.
// The initial states are then distributed uniformly.
func GenerateMarkovChain(ctx context.Context, factory model.Factory, cfg Configuration, opts ...config.RunOption) (*state.MarkovChain, *Report, error) {
	var mb *builder.MarkovChainBuilder
	g, err := generate(ctx, factory, cfg, func(names []string, logger *slog.Logger) builderAction {
		mb = builder.NewMarkovChainBuilder(names, cfg.ConvergenceTolerance, logger)
		return mb
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer g.close()
	return mb.MarkovChain(), g.report, nil
}

// Explore the model and build its Markov decision process
func GenerateMDP(ctx context.Context, factory model.Factory, cfg Configuration, opts ...config.RunOption) (*state.MDP, *Report, error) {
	var mb *builder.MDPBuilder
	g, err := generate(ctx, factory, cfg, func(names []string, logger *slog.Logger) builderAction {
		mb = builder.NewMDPBuilder(names, cfg.ConvergenceTolerance, logger)
		return mb
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer g.close()
	return mb.MDP(), g.report, nil
}

type builderAction interface {
	builder.StateAction
	builder.BatchedTransitionAction
	builder.Finalizer
	Unnormalized() []builder.UnnormalizedState
}

// A completed traversal. The storage stays available until the generation is closed.
type generation struct {
	report  *Report
	storage storage.StateStorage
	archive *storage.Archive
	logger  *slog.Logger
}

func (g *generation) close() {
	if g.archive == nil {
		return
	}
	if err := g.archive.Close(); err != nil {
		g.logger.Warn("Closing the vector archive failed", "err", err)
	}
}

func generate(ctx context.Context, factory model.Factory, cfg Configuration, newBuilder func([]string, *slog.Logger) builderAction, opts ...config.RunOption) (*generation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("probmc: a model factory is required")
	}
	var (
		logger     = slog.Default()
		registerer prometheus.Registerer
		actions    []any
		exports    []*builder.GraphvizExporter
	)

	probe := factory()
	if probe == nil {
		return nil, errors.New("probmc: the model factory returned nil")
	}
	names := probe.Labels()
	vectorSize := probe.StateVectorSize()

	for _, opt := range opts {
		switch t := opt.(type) {
		case config.LoggerOption:
			if t.Logger != nil {
				logger = t.Logger
			}
		case config.RegistererOption:
			registerer = t.Registerer
		case config.ExportOption:
			exports = append(exports, builder.NewGraphvizExporter(t.W, names))
		case config.ActionOption:
			actions = append(actions, t.Action)
		}
	}

	if err := model.Release(probe); err != nil {
		logger.Warn("Closing the model instance failed", "err", err)
	}

	s, err := storage.New(cfg.StorageStrategy, cfg.StateCapacity, vectorSize)
	if err != nil {
		return nil, err
	}
	g := &generation{storage: s, logger: logger}
	if cfg.ArchivePath != nil {
		archive, err := storage.OpenArchive(*cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		g.archive = archive
		g.storage = storage.WithArchive(s, archive)
	}

	b := newBuilder(names, logger)
	all := append([]any{b}, actions...)
	for _, e := range exports {
		all = append(all, e)
	}
	a, err := builder.NewActions(all...)
	if err != nil {
		g.close()
		return nil, err
	}

	progress := cfg.ProgressInterval
	if !cfg.ProgressReporting {
		progress = 0
	}
	t, err := traverser.New(traverser.Config{
		Factory:          factory,
		Storage:          g.storage,
		Actions:          a,
		WorkerCount:      cfg.WorkerCount,
		Order:            cfg.SearchOrder,
		ProgressInterval: progress,
		Logger:           logger,
		Registerer:       registerer,
	})
	if err != nil {
		g.close()
		return nil, err
	}
	result, err := t.Traverse(ctx)
	if err != nil {
		g.close()
		return nil, err
	}
	g.report = &Report{
		Result:       result,
		LabelNames:   t.LabelNames(),
		Unnormalized: b.Unnormalized(),
	}
	return g, nil
}
