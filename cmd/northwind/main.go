// Command northwind builds the Northwind sales star schema from the
// spreadsheet and database exports and verifies published snapshots.
//
// Usage:
//
//	northwind run [--config northwind.yaml] [flags]
//	northwind check [dir]
//	northwind validate-config [--config northwind.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"northwind/internal/check"
	"northwind/internal/config"
	"northwind/internal/logging"
	"northwind/internal/metrics"
	"northwind/internal/metrics/datadog"
	"northwind/internal/pipeline"

	// register every warehouse backend with the storage factory.
	_ "northwind/internal/storage/all"
)

// backendCloser is a metrics backend that must be closed at exit.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// appDeps are the external seams of runMain.
type appDeps struct {
	pipeline   pipeline.Deps
	newBackend func(ctx context.Context, job string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

func defaultDeps() appDeps {
	return appDeps{
		newBackend: func(ctx context.Context, job string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags, FlushEvery: flushEvery})
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	cancel()
	os.Exit(code)
}

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// exitError carries a specific exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(format string, args ...any) error {
	return &exitError{code: exitFail, err: fmt.Errorf(format, args...)}
}

// runMain executes the CLI and returns the process exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: invalid configuration, failed run or failed check.
//   - 2: usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(stdout, stderr, deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "northwind: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer, deps appDeps) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "northwind",
		Short:         "Northwind sales star-schema ETL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	config.RegisterFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(cfgPath, cmd.Flags())
		if err != nil {
			return nil, fail("%w", err)
		}
		issues := cfg.Validate()
		for _, iss := range issues {
			fmt.Fprintln(stderr, iss)
		}
		if config.HasErrors(issues) {
			return nil, fail("configuration is invalid")
		}
		return cfg, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Reconcile sources, build the star schema and publish it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load(cmd)
				if err != nil {
					return err
				}
				return runPipeline(cmd.Context(), cfg, stdout, stderr, deps)
			},
		},
		&cobra.Command{
			Use:   "check [dir]",
			Short: "Verify a published snapshot (defaults to output.dir)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := ""
				if len(args) == 1 {
					dir = args[0]
				} else {
					cfg, err := load(cmd)
					if err != nil {
						return err
					}
					dir = cfg.Output.Dir
				}
				rep := check.RunContext(cmd.Context(), dir)
				if _, err := rep.WriteTo(stdout); err != nil {
					return fail("write report: %w", err)
				}
				if !rep.OK() {
					return fail("%d of %d checks failed", len(rep.Failed()), len(rep.Results))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate-config",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := load(cmd); err != nil {
					return err
				}
				fmt.Fprintln(stdout, "configuration is valid")
				return nil
			},
		},
	)
	return root
}

func runPipeline(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, deps appDeps) error {
	log, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return fail("%w", err)
	}
	log = log.With().Str("job", cfg.Job).Logger()

	if cfg.Metrics.Backend == "datadog" {
		b, err := deps.newBackend(ctx, cfg.Job, datadog.ParseTagsCSV(cfg.Metrics.Tags), cfg.Metrics.FlushEvery)
		if err != nil {
			log.Warn().Err(err).Msg("metrics backend unavailable; using nop")
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn().Err(err).Msg("metrics flush failed")
				}
				metrics.SetBackend(nil)
			}()
		}
	}

	sum, err := pipeline.New(cfg, log, deps.pipeline).Run(ctx)
	if err != nil {
		return fail("%w", err)
	}
	for _, f := range sum.Files {
		fmt.Fprintf(stdout, "%s\t%d\t%s\n", f.Path, f.Rows, f.Digest)
	}
	return nil
}
