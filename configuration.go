package probmc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"probmc/checking"
	"probmc/config"
	"probmc/scheduler"
	"probmc/storage"
)

const defaultProgressInterval = 5 * time.Second

// The configuration of a traversal and of the analysis of the resulting state space.
//
// A Configuration is a value. It is copied into a traversal when the traversal starts
// and is never changed while the traversal runs.
type Configuration struct {
	WorkerCount     int
	StateCapacity   storage.Capacity
	StorageStrategy storage.Strategy
	// Step bound applied to path formulas without a bound of their own. nil if unbounded.
	BoundedSteps         *int
	ConvergenceTolerance float64
	MaxIterations        int
	EarlyTermination     bool
	ProgressReporting    bool
	ProgressInterval     time.Duration
	SearchOrder          scheduler.Order
	// Directory of the vector archive. nil if the vectors are not archived, empty for an in-memory archive.
	ArchivePath *string
}

func DefaultConfiguration() Configuration {
	return Configuration{
		WorkerCount:          runtime.GOMAXPROCS(0), // Will not change GOMAXPROCS but only return the current value
		StateCapacity:        storage.Medium,
		StorageStrategy:      storage.Exact,
		ConvergenceTolerance: 1e-6,
		MaxIterations:        100000,
		EarlyTermination:     true,
		ProgressInterval:     defaultProgressInterval,
		SearchOrder:          scheduler.DepthFirst,
	}
}

// Create a configuration from the default values and the provided options.
func NewConfiguration(opts ...config.Option) Configuration {
	return DefaultConfiguration().With(opts...)
}

// Returns a copy of the configuration with the options applied.
func (c Configuration) With(opts ...config.Option) Configuration {
	for _, opt := range opts {
		switch t := opt.(type) {
		case config.WorkerCountOption:
			c.WorkerCount = t.N
		case config.StateCapacityOption:
			c.StateCapacity = t.Capacity
		case config.StorageStrategyOption:
			c.StorageStrategy = t.Strategy
		case config.BoundedStepsOption:
			steps := t.Steps
			c.BoundedSteps = &steps
		case config.ConvergenceToleranceOption:
			c.ConvergenceTolerance = t.Tolerance
		case config.MaxIterationsOption:
			c.MaxIterations = t.N
		case config.EarlyTerminationOption:
			c.EarlyTermination = t.Enabled
		case config.ProgressReportingOption:
			c.ProgressReporting = t.Enabled
			if t.Interval > 0 {
				c.ProgressInterval = t.Interval
			}
		case config.SearchOrderOption:
			c.SearchOrder = t.Order
		case config.ArchiveOption:
			path := t.Path
			c.ArchivePath = &path
		}
	}
	return c
}

// Returns an error describing the first invalid value of the configuration
func (c Configuration) Validate() error {
	switch {
	case c.WorkerCount < 1:
		return fmt.Errorf("probmc: invalid worker count %v", c.WorkerCount)
	case c.StateCapacity <= 0:
		return fmt.Errorf("probmc: invalid state capacity %v", int(c.StateCapacity))
	case c.BoundedSteps != nil && *c.BoundedSteps < 0:
		return fmt.Errorf("probmc: invalid step bound %v", *c.BoundedSteps)
	case c.ConvergenceTolerance <= 0:
		return fmt.Errorf("probmc: invalid convergence tolerance %v", c.ConvergenceTolerance)
	case c.MaxIterations < 1:
		return fmt.Errorf("probmc: invalid maximal number of iterations %v", c.MaxIterations)
	case c.ProgressReporting && c.ProgressInterval <= 0:
		return fmt.Errorf("probmc: invalid progress interval %v", c.ProgressInterval)
	}
	return nil
}

// The solver using the numeric settings of the configuration
func (c Configuration) Solver(logger *slog.Logger) *checking.Solver {
	return &checking.Solver{
		Tolerance:        c.ConvergenceTolerance,
		MaxIterations:    c.MaxIterations,
		EarlyTermination: c.EarlyTermination,
		Logger:           logger,
	}
}

// Apply the configured step bound to a path formula that has no bound of its own
func (c Configuration) Bound(f checking.PathFormula) checking.PathFormula {
	if c.BoundedSteps != nil && !f.Bounded() {
		f.Bound = *c.BoundedSteps
	}
	return f
}

// The configuration file format.
// Fields left out of the file keep their default values.
type configurationFile struct {
	WorkerCount          *int     `yaml:"workerCount"`
	StateCapacity        *string  `yaml:"stateCapacity"`
	StorageStrategy      *string  `yaml:"storageStrategy"`
	BoundedSteps         *int     `yaml:"boundedSteps"`
	ConvergenceTolerance *float64 `yaml:"convergenceTolerance"`
	MaxIterations        *int     `yaml:"maxIterations"`
	EarlyTermination     *bool    `yaml:"earlyTermination"`
	ProgressReporting    *bool    `yaml:"progressReporting"`
	ProgressInterval     *string  `yaml:"progressInterval"`
	SearchOrder          *string  `yaml:"searchOrder"`
	ArchivePath          *string  `yaml:"archivePath"`
}

// Read a YAML configuration. Unknown keys are rejected.
func LoadConfiguration(r io.Reader) (Configuration, error) {
	var file configurationFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Configuration{}, fmt.Errorf("probmc: decoding configuration: %w", err)
	}

	c := DefaultConfiguration()
	if file.WorkerCount != nil {
		c.WorkerCount = *file.WorkerCount
	}
	if file.StateCapacity != nil {
		capacity, err := storage.ParseCapacity(*file.StateCapacity)
		if err != nil {
			return Configuration{}, err
		}
		c.StateCapacity = capacity
	}
	if file.StorageStrategy != nil {
		strategy, err := storage.ParseStrategy(*file.StorageStrategy)
		if err != nil {
			return Configuration{}, err
		}
		c.StorageStrategy = strategy
	}
	c.BoundedSteps = file.BoundedSteps
	if file.ConvergenceTolerance != nil {
		c.ConvergenceTolerance = *file.ConvergenceTolerance
	}
	if file.MaxIterations != nil {
		c.MaxIterations = *file.MaxIterations
	}
	if file.EarlyTermination != nil {
		c.EarlyTermination = *file.EarlyTermination
	}
	if file.ProgressReporting != nil {
		c.ProgressReporting = *file.ProgressReporting
	}
	if file.ProgressInterval != nil {
		interval, err := time.ParseDuration(*file.ProgressInterval)
		if err != nil {
			return Configuration{}, fmt.Errorf("probmc: invalid progress interval: %w", err)
		}
		c.ProgressInterval = interval
	}
	if file.SearchOrder != nil {
		order, err := scheduler.ParseOrder(*file.SearchOrder)
		if err != nil {
			return Configuration{}, err
		}
		c.SearchOrder = order
	}
	c.ArchivePath = file.ArchivePath
	return c, c.Validate()
}

// Read a YAML configuration from a file
func LoadConfigurationFile(path string) (Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Configuration{}, err
	}
	defer f.Close()
	return LoadConfiguration(f)
}

// Wrappers creating the options of the config package.

// Configure the number of concurrent workers.
//
// Default value is GOMAXPROCS
func WorkerCount(n int) config.Option {
	return config.WorkerCountOption{N: n}
}

// Configure the maximal number of distinct states.
//
// Default value is storage.Medium
func StateCapacity(capacity storage.Capacity) config.Option {
	return config.StateCapacityOption{Capacity: capacity}
}

// Only store fingerprints of the states.
//
// Reduces the memory usage, but distinct states with the same 128 bit fingerprint are merged.
func CompactStorage() config.Option {
	return config.StorageStrategyOption{Strategy: storage.CompactHash}
}

// Bound path formulas without a bound of their own to n steps
func BoundedSteps(n int) config.Option {
	return config.BoundedStepsOption{Steps: n}
}

// Configure the convergence criterion of the value iteration.
//
// Default value is 1e-6
func ConvergenceTolerance(tolerance float64) config.Option {
	return config.ConvergenceToleranceOption{Tolerance: tolerance}
}

// Configure the maximal number of iterations of an unbounded value iteration.
//
// Default value is 100000
func MaxIterations(n int) config.Option {
	return config.MaxIterationsOption{N: n}
}

func EarlyTermination(enabled bool) config.Option {
	return config.EarlyTerminationOption{Enabled: enabled}
}

// Report the progress of the traversal at the interval. An interval of 0 uses the default of 5 seconds.
func ProgressReporting(interval time.Duration) config.Option {
	return config.ProgressReportingOption{Enabled: true, Interval: interval}
}

// Expand the states in breadth first order.
//
// The discovered state space does not depend on the order, only the assigned indices do.
func BreadthFirst() config.Option {
	return config.SearchOrderOption{Order: scheduler.BreadthFirst}
}

// Archive the state vectors in a badger database in the directory.
// An empty path keeps the archive in memory.
func Archive(path string) config.Option {
	return config.ArchiveOption{Path: path}
}

// Export the discovered graph in the Graphviz DOT format
func Export(w io.Writer) config.RunOption {
	return config.ExportOption{W: w}
}

// Register an additional action with the traversal
func WithAction(action any) config.RunOption {
	return config.ActionOption{Action: action}
}
