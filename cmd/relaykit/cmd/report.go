package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/relaykit/internal/core/db"
	"github.com/solatis/relaykit/internal/core/runtime"
)

var reportCmd = &cobra.Command{
	Use:   "report <event>",
	Short: "Start the runtime, report one event and drain the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringArrayP("param", "p", nil, "event parameter as key=value (repeatable)")
}

// session is a started runtime over a database the command owns, so the
// store stays readable after the runtime is closed.
type session struct {
	rt     *runtime.Runtime
	db     *sqlx.DB
	logger *slog.Logger
}

// startSession loads configuration, opens the store, builds the runtime and
// runs the bootstrap pass.
func startSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireTenant(); err != nil {
		return nil, err
	}
	database, err := db.OpenAndMigrate(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rt, err := runtime.New(cfg, runtime.Options{DB: database, Logger: logger})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	rt.Start(ctx)
	printStates(cmd, rt.RunState().Snapshot())
	return &session{rt: rt, db: database, logger: logger}, nil
}

// Close drains the runtime, then releases the store.
func (s *session) Close() error {
	err := s.rt.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func runReport(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(raw)
	if err != nil {
		return err
	}

	s, err := startSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.rt.ReportEvent(args[0], params) {
		return fmt.Errorf("event %q not accepted: no tenant configuration", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
	return nil
}

// parseParams turns key=value pairs into event parameters. Values that read
// as booleans or numbers are passed as such; quote a value to keep it a
// string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		params[key] = parseLiteral(value)
	}
	return params, nil
}

func parseLiteral(v string) any {
	if unquoted, err := strconv.Unquote(v); err == nil {
		return unquoted
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
