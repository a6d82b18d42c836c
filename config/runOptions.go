package config

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Configures a single generation of a state space
type RunOption interface {
	RunOpt()
}

// Configures io.writers that the discovered graph will be exported to as Graphviz DOT

// Can be applied multiple times to add multiple io.writers.
// Default value is no writers.
type ExportOption struct {
	W io.Writer
}

func (eo ExportOption) RunOpt() {}

// Registers additional actions that are called with the discovered states and transitions.

// Can be applied multiple times.
// The action must implement at least one of the action interfaces of the builder package.
type ActionOption struct {
	Action any
}

func (ao ActionOption) RunOpt() {}

// Configures the logger receiving progress reports and diagnostics

// Default value is slog.Default()
type LoggerOption struct {
	Logger *slog.Logger
}

func (lo LoggerOption) RunOpt() {}

// Configures where the traversal metrics are registered

// Default value is no registration.
type RegistererOption struct {
	Registerer prometheus.Registerer
}

func (ro RegistererOption) RunOpt() {}
