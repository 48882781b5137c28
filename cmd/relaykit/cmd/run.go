package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/relaykit/internal/core/bootstrap"
	"github.com/solatis/relaykit/internal/core/runtime"
	"github.com/solatis/relaykit/internal/core/server"
	"github.com/solatis/relaykit/internal/types"
)

const Version = "0.1.0"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the runtime and serve component health over gRPC",
	RunE:  runRuntime,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("host", "127.0.0.1", "health server host")
	runCmd.Flags().Int("port", 50061, "health server port")
}

func runRuntime(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.HealthHost = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.HealthPort = port
	}

	grpcServer, err := server.NewGRPCServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	rt, err := runtime.New(cfg, runtime.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	rt.OnRunning(grpcServer.Sync)

	logger.Info("starting relaykit runtime", "version", Version, "tenant", cfg.TenantToken, "config_version", cfg.ConfigVersion)
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	// The health server reflects a failed start as NOT_SERVING.
	if !rt.Start(ctx) {
		grpcServer.Sync(rt.RunState().Snapshot())
		logger.Warn("runtime not running, serving health only")
	}

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}

// printStates writes one line per component state.
func printStates(cmd *cobra.Command, res bootstrap.RunResult) {
	out := cmd.OutOrStdout()
	for _, c := range types.Components {
		fmt.Fprintf(out, "%-10s %s\n", c, res.States[c])
	}
	fmt.Fprintf(out, "running    %t\n", res.OverallRunning)
}
