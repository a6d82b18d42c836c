package config

import (
	"time"

	"probmc/scheduler"
	"probmc/storage"
)

// Configures how a state space is traversed and analysed.
// Applied on top of the default configuration or a configuration loaded from a file.
type Option interface {
	ConfigOpt()
}

// Configures the number of workers expanding states concurrently

// Default value is GOMAXPROCS. 1 expands the states sequentially.
type WorkerCountOption struct{ N int }

func (o WorkerCountOption) ConfigOpt() {}

// Configures the maximal number of distinct states

// Default value is storage.Medium
type StateCapacityOption struct{ Capacity storage.Capacity }

func (o StateCapacityOption) ConfigOpt() {}

// Configures how states are stored

// Default value is storage.Exact
type StorageStrategyOption struct{ Strategy storage.Strategy }

func (o StorageStrategyOption) ConfigOpt() {}

// Configures a step bound applied to path formulas without a bound of their own

// Default value is no bound.
type BoundedStepsOption struct{ Steps int }

func (o BoundedStepsOption) ConfigOpt() {}

// Configures the convergence criterion of the value iteration

// Default value is 1e-6
type ConvergenceToleranceOption struct{ Tolerance float64 }

func (o ConvergenceToleranceOption) ConfigOpt() {}

// Configures the maximal number of iterations of an unbounded value iteration

// Default value is 100000
type MaxIterationsOption struct{ N int }

func (o MaxIterationsOption) ConfigOpt() {}

// Configures whether states with probability 0 or 1 are excluded from the value iteration

// Default value is true
type EarlyTerminationOption struct{ Enabled bool }

func (o EarlyTerminationOption) ConfigOpt() {}

// Configures periodic progress reports. An Interval of 0 uses the default interval.

// Default value is no reports.
type ProgressReportingOption struct {
	Enabled  bool
	Interval time.Duration
}

func (o ProgressReportingOption) ConfigOpt() {}

// Configures the order states are expanded in

// Default value is scheduler.DepthFirst
type SearchOrderOption struct{ Order scheduler.Order }

func (o SearchOrderOption) ConfigOpt() {}

// Configures a directory where the discovered state vectors are archived.
// An empty path keeps the archive in memory.

// Default value is no archive.
type ArchiveOption struct{ Path string }

func (o ArchiveOption) ConfigOpt() {}
