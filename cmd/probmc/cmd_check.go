package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"probmc"
	"probmc/config"
	"probmc/model"
	"probmc/remote"
	"probmc/scheduler"
	"probmc/storage"
)

var checkFlags struct {
	configFile string
	workers    int
	capacity   string
	strategy   string
	bfs        bool
	bound      int
	progress   time.Duration
	dot        string
	metrics    string
	logJSON    string
	remote     string
	verbose    bool
}

var checkCmd = &cobra.Command{
	Use:   "check <model>",
	Short: "Generate the state space of a model and check its properties",
	Long: `Explores every reachable state of the model, builds its Markov decision process and
calculates the minimal and maximal probability of each of the model's path formulas.
The invariants of the model are checked on the same state space.

With --remote the model is executed by a probmc serve process and only the
properties are taken from the named model.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkFlags.configFile, "config", "", "YAML configuration file")
	f.IntVar(&checkFlags.workers, "workers", 0, "number of concurrent workers")
	f.StringVar(&checkFlags.capacity, "capacity", "", "state capacity: small, medium, large or a number of states")
	f.StringVar(&checkFlags.strategy, "storage", "", "storage strategy: exact or compact")
	f.BoolVar(&checkFlags.bfs, "bfs", false, "expand the states in breadth first order")
	f.IntVar(&checkFlags.bound, "bound", -1, "step bound of path formulas without a bound of their own")
	f.DurationVar(&checkFlags.progress, "progress", 0, "interval of progress reports, 0 disables them")
	f.StringVar(&checkFlags.dot, "dot", "", "write the discovered graph in the Graphviz DOT format to the file")
	f.StringVar(&checkFlags.metrics, "metrics", "", "serve prometheus metrics on the address while checking")
	f.StringVar(&checkFlags.logJSON, "log-json", "", "write structured diagnostics as JSON to the file")
	f.StringVar(&checkFlags.remote, "remote", "", "address of a probmc serve process executing the model")
	f.BoolVarP(&checkFlags.verbose, "verbose", "v", false, "log debug records")
}

// Build the configuration from the configuration file and the flags
func checkConfiguration(cmd *cobra.Command) (probmc.Configuration, error) {
	cfg := probmc.DefaultConfiguration()
	if checkFlags.configFile != "" {
		var err error
		cfg, err = probmc.LoadConfigurationFile(checkFlags.configFile)
		if err != nil {
			return cfg, err
		}
	}
	opts := []config.Option{}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		opts = append(opts, probmc.WorkerCount(checkFlags.workers))
	}
	if flags.Changed("capacity") {
		capacity, err := storage.ParseCapacity(checkFlags.capacity)
		if err != nil {
			return cfg, err
		}
		opts = append(opts, probmc.StateCapacity(capacity))
	}
	if flags.Changed("storage") {
		strategy, err := storage.ParseStrategy(checkFlags.strategy)
		if err != nil {
			return cfg, err
		}
		opts = append(opts, config.StorageStrategyOption{Strategy: strategy})
	}
	if checkFlags.bfs {
		opts = append(opts, config.SearchOrderOption{Order: scheduler.BreadthFirst})
	}
	if checkFlags.bound >= 0 {
		opts = append(opts, probmc.BoundedSteps(checkFlags.bound))
	}
	if checkFlags.progress > 0 {
		opts = append(opts, probmc.ProgressReporting(checkFlags.progress))
	}
	cfg = cfg.With(opts...)
	return cfg, cfg.Validate()
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := lookupModel(args[0])
	if err != nil {
		return err
	}
	cfg, err := checkConfiguration(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	level := slog.LevelInfo
	if checkFlags.verbose {
		level = slog.LevelDebug
	}
	var diagnostics io.Writer
	if checkFlags.logJSON != "" {
		f, err := os.Create(checkFlags.logJSON)
		if err != nil {
			return err
		}
		defer f.Close()
		diagnostics = f
	}
	logger := probmc.NewLogger(cmd.ErrOrStderr(), level, diagnostics)

	reg := prometheus.NewRegistry()
	opts := []config.RunOption{probmc.WithLogger(logger), probmc.WithRegisterer(reg)}
	if checkFlags.metrics != "" {
		srv := &http.Server{Addr: checkFlags.metrics, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics endpoint failed", "err", err)
			}
		}()
		defer srv.Close()
	}
	if checkFlags.dot != "" {
		f, err := os.Create(checkFlags.dot)
		if err != nil {
			return err
		}
		defer f.Close()
		opts = append(opts, probmc.Export(f))
	}

	var factory model.Factory = e.program().Factory()
	var client *remote.Client
	if checkFlags.remote != "" {
		client, err = remote.Dial(checkFlags.remote)
		if err != nil {
			return err
		}
		defer client.Close()
		client.WithLogger(logger)
		factory = client.Factory(ctx)
	}

	result, err := probmc.Check(ctx, factory, cfg, e.queries(), e.invariants(), opts...)
	if err != nil {
		if client != nil && client.Err() != nil {
			return fmt.Errorf("%w: %w", err, client.Err())
		}
		return err
	}

	out := cmd.OutOrStdout()
	writeSummary(out, args[0], cfg, result.Report)
	writeBounds(out, result.Bounds)
	ok, desc := result.Invariants.Response()
	fmt.Fprintln(out, desc)
	if !ok {
		return errors.New("an invariant is violated")
	}
	return nil
}

func writeSummary(out io.Writer, name string, cfg probmc.Configuration, report *probmc.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(name)
	t.AppendRows([]table.Row{
		{"States", humanize.Comma(int64(report.States))},
		{"Transitions", humanize.Comma(int64(report.Transitions))},
		{"Initial states", len(report.Initial)},
		{"Labels", strings.Join(report.LabelNames, ", ")},
		{"Workers", cfg.WorkerCount},
		{"Storage", fmt.Sprintf("%v, capacity %v", cfg.StorageStrategy, cfg.StateCapacity)},
		{"Memory", humanize.IBytes(report.MemoryUsage)},
		{"Faults", len(report.Faults)},
		{"Unnormalized states", len(report.Unnormalized)},
		{"Duration", report.Duration.Round(time.Microsecond)},
	})
	t.Render()
}

func writeBounds(out io.Writer, bounds []probmc.Bounds) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Formula", "Min", "Max", "Iterations"})
	for _, b := range bounds {
		t.AppendRow(table.Row{
			b.Formula.String(),
			fmt.Sprintf("%.6f", b.Min.Value),
			fmt.Sprintf("%.6f", b.Max.Value),
			max(b.Min.Iterations, b.Max.Iterations),
		})
	}
	t.Render()
}
