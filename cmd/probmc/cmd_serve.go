package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"probmc"
	"probmc/remote"
)

var serveFlags struct {
	address string
	verbose bool
}

var serveCmd = &cobra.Command{
	Use:   "serve <model>",
	Short: "Execute a model for remote traversals",
	Long: `Serves the model over gRPC. Every session opened by a client gets its own instance
of the model. Use probmc check --remote to traverse the served model.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.address, "address", "localhost:7321", "address to listen on")
	f.BoolVarP(&serveFlags.verbose, "verbose", "v", false, "log the sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := lookupModel(args[0])
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if serveFlags.verbose {
		level = slog.LevelDebug
	}
	logger := probmc.NewLogger(cmd.ErrOrStderr(), level, nil)

	lis, err := net.Listen("tcp", serveFlags.address)
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	remote.NewServer(e.program().Factory(), logger).Register(gs)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stop := context.AfterFunc(ctx, gs.GracefulStop)
	defer stop()

	logger.Info("Serving model", "model", args[0], "address", lis.Addr().String())
	return gs.Serve(lis)
}
