// Command dbpool opens a connection pool from a config file and probes,
// inspects or serves it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ruslan-starovoitov/dbpool"
	_ "github.com/ruslan-starovoitov/dbpool/mysql"
	_ "github.com/ruslan-starovoitov/dbpool/postgres"
	_ "github.com/ruslan-starovoitov/dbpool/sqlite"
)

const (
	exitUnhealthy = 1
	exitError     = 2
)

// Set via ldflags during build.
var version = "dev"

type options struct {
	ConfigPath string
	Verbose    bool
}

var opts options

func main() {
	rootCmd := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbpool",
		Short: "Open, probe and serve a database connection pool",
		Example: `  dbpool --config pool.yaml probe
  dbpool --config pool.toml status
  dbpool --config pool.yaml exec "select count(*) from test" --fetch
  dbpool --config pool.yaml serve --addr :8080`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           version,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "dbpool.yaml", "Pool configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newProbeCmd(), newStatusCmd(), newExecCmd(), newLoadCmd(), newServeCmd())
	return rootCmd
}

func setup(_ *cobra.Command, _ []string) error {
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// openPool loads the configuration and opens its pool.
func openPool(ctx context.Context) (*dbpool.ConnPool, error) {
	cfg, err := dbpool.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return dbpool.OpenConfig(ctx, cfg)
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run a health check against the configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return errWithCode(err, exitUnhealthy)
			}
			defer pool.Close()

			if err := pool.HealthCheck(cmd.Context()); err != nil {
				return errWithCode(fmt.Errorf("unhealthy: %w", err), exitUnhealthy)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the target and print pool statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pool.HealthCheck(cmd.Context()); err != nil {
				logrus.WithError(err).Warn("health check failed")
			}
			return writeJSON(cmd, pool.Stats())
		},
	}
}

func newExecCmd() *cobra.Command {
	var fetch bool
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Run one statement through the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := pool.Execute(cmd.Context(), dbpool.Request{Query: args[0], Fetch: fetch})
			if err != nil {
				return err
			}
			if !fetch {
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows affected\n", res.RowsAffected)
				return nil
			}
			rows := make([]map[string]interface{}, res.Rows.Len())
			for i := range rows {
				rows[i] = res.Rows.Map(i)
			}
			return writeJSON(cmd, rows)
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Print result rows instead of the affected row count")
	return cmd
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// codedError carries the process exit code for an error.
type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e codedError) Unwrap() error { return e.err }

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}
