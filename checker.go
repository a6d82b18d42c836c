package probmc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"probmc/builder"
	"probmc/checking"
	"probmc/config"
	"probmc/model"
	"probmc/state"
)

// The minimal and maximal probability of a path formula over all resolutions of the nondeterminism
type Bounds struct {
	Formula  checking.PathFormula
	Min, Max checking.Probability
}

func (b Bounds) String() string {
	return fmt.Sprintf("P[%v] in [%v, %v]", b.Formula, b.Min.Value, b.Max.Value)
}

// Explore the model and check that the invariants hold in every reachable state.
//
// The response contains a shortest sequence of states leading to a violation.
// The state vectors are included if the storage keeps them.
func CheckInvariant(ctx context.Context, factory model.Factory, cfg Configuration, invariants []checking.StateFormula, opts ...config.RunOption) (checking.CheckerResponse, *Report, error) {
	var mb *builder.MDPBuilder
	g, err := generate(ctx, factory, cfg, func(names []string, logger *slog.Logger) builderAction {
		mb = builder.NewMDPBuilder(names, cfg.ConvergenceTolerance, logger)
		return mb
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer g.close()

	checker := checking.NewInvariantChecker(invariants...).WithVectors(g.storage.Vector)
	resp, err := checker.Check(mb.MDP())
	if err != nil {
		return nil, nil, err
	}
	return resp, g.report, nil
}

// Explore the model and calculate the probability bounds of the path formulas.
// Path formulas without a bound use the configured step bound.
func CheckReachability(ctx context.Context, factory model.Factory, cfg Configuration, formulas []checking.PathFormula, opts ...config.RunOption) ([]Bounds, *Report, error) {
	mdp, report, err := GenerateMDP(ctx, factory, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	out, err := probabilityBounds(mdp, cfg, formulas, loggerOf(opts))
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}

// The outcome of Check
type CheckResult struct {
	*Report
	Bounds     []Bounds
	Invariants checking.CheckerResponse
}

// Explore the model once, calculate the probability bounds of the path formulas and check the
// invariants on the same state space.
func Check(ctx context.Context, factory model.Factory, cfg Configuration, formulas []checking.PathFormula, invariants []checking.StateFormula, opts ...config.RunOption) (*CheckResult, error) {
	var mb *builder.MDPBuilder
	g, err := generate(ctx, factory, cfg, func(names []string, logger *slog.Logger) builderAction {
		mb = builder.NewMDPBuilder(names, cfg.ConvergenceTolerance, logger)
		return mb
	}, opts...)
	if err != nil {
		return nil, err
	}
	defer g.close()

	mdp := mb.MDP()
	bounds, err := probabilityBounds(mdp, cfg, formulas, g.logger)
	if err != nil {
		return nil, err
	}
	resp, err := checking.NewInvariantChecker(invariants...).WithVectors(g.storage.Vector).Check(mdp)
	if err != nil {
		return nil, err
	}
	return &CheckResult{Report: g.report, Bounds: bounds, Invariants: resp}, nil
}

func probabilityBounds(mdp *state.MDP, cfg Configuration, formulas []checking.PathFormula, logger *slog.Logger) ([]Bounds, error) {
	solver := cfg.Solver(logger)
	out := make([]Bounds, 0, len(formulas))
	for _, f := range formulas {
		f = cfg.Bound(f)
		lo, err := solver.CalculateMinimalProbability(mdp, f)
		if err != nil {
			return nil, err
		}
		hi, err := solver.CalculateMaximalProbability(mdp, f)
		if err != nil {
			return nil, err
		}
		out = append(out, Bounds{Formula: f, Min: lo, Max: hi})
	}
	return out, nil
}

// The logger configured by the options, or slog.Default()
func loggerOf(opts []config.RunOption) *slog.Logger {
	logger := slog.Default()
	for _, opt := range opts {
		if lo, ok := opt.(config.LoggerOption); ok && lo.Logger != nil {
			logger = lo.Logger
		}
	}
	return logger
}

// Use the logger for progress reports and diagnostics
func WithLogger(logger *slog.Logger) config.RunOption {
	return config.LoggerOption{Logger: logger}
}

// Register the traversal metrics with the registerer
func WithRegisterer(registerer prometheus.Registerer) config.RunOption {
	return config.RegistererOption{Registerer: registerer}
}
