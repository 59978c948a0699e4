package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dbconduit/internal/app"
	"dbconduit/internal/config"
	"dbconduit/internal/domain"
	"dbconduit/internal/export"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbconduit",
		Short: "Database client backend for editors",
		Long: `dbconduit runs queries against database connections declared in
connection sources, tracks every call through execution and archival, and
serves paged results to an editor over MCP.

Supported drivers: postgres, mysql, sqlite, mongodb.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config directory (default $DBCONDUIT_CONFIG_PATH or ~/.config/dbconduit)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newExecCmd())
	return rootCmd
}

func loadApp(cmd *cobra.Command) (*app.App, error) {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return app.New(cfg, version)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.ServeMCP(ctx)
		},
	}
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Load every source and list its connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, st := range a.Handler().ReloadAll() {
				fmt.Fprintf(out, "%s (%d)\n", st.Name, st.Connections)
				if st.Err != nil {
					fmt.Fprintf(out, "  error: %v\n", st.Err)
				}
				for _, c := range a.Handler().SourceGetConnections(st.Name) {
					fmt.Fprintf(out, "  %-24s %-10s %s\n", c.ID, c.Type, c.Name)
				}
			}
			return nil
		},
	}
}

func newExecCmd() *cobra.Command {
	execCmd := &cobra.Command{
		Use:   "exec [connection-id] [query]",
		Short: "Run one query and print its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			file, _ := cmd.Flags().GetString("file")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			h := a.Handler()

			call, err := h.ConnectionExecute(args[0], args[1])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if call, err = h.WaitCall(ctx, call.ID); err != nil {
				_ = h.CallCancel(call.ID)
				return fmt.Errorf("query did not finish within %s: %w", timeout, err)
			}
			if call.State != domain.CallStateArchived {
				return errors.New(string(call.State) + ": " + call.Error)
			}

			if file != "" {
				return h.CallStoreResult(call.ID, format, domain.FileTarget{Path: file}, 0, -1)
			}
			sink := &stdoutSink{cmd: cmd, format: format}
			h.CallDisplayResult(call.ID, sink, 0, math.MaxInt)
			return sink.err
		},
	}
	execCmd.Flags().String("format", "table", "Output format (table, json, csv)")
	execCmd.Flags().String("file", "", "Write the result to a file instead of stdout")
	execCmd.Flags().Duration("timeout", 5*time.Minute, "Cancel the query after this long")
	return execCmd
}

// stdoutSink prints a whole result in one format.
type stdoutSink struct {
	cmd    *cobra.Command
	format export.Format
	err    error
}

func (s *stdoutSink) Display(header domain.Header, rows []domain.Row, _, _ int) error {
	s.err = export.Write(s.cmd.OutOrStdout(), s.format, header, rows)
	return s.err
}
