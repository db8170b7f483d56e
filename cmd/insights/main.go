package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/observability"
	"retail-insights/internal/pipeline"
)

type options struct {
	input                  string
	configPath             string
	processedDir           string
	outputDir              string
	sheet                  string
	topN                   int
	dropMissingCustomerID  bool
	dropMissingDescription bool
	logLevel               string
	logFormat              string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Turn raw retail transactions into cleaned data, metrics and a report",
		Long: `insights loads a transaction file (.csv, .xlsx) or a directory of .csv files,
cleans the records, computes revenue metrics, daily trend, top products and
anomaly days, and writes the results plus a plain-text report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}

			logger := observability.NewLogger(cfg.Logger, stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := pipeline.New(cfg, logger, stdout).Run(ctx, opts.input)
			if err != nil {
				logger.Error("pipeline failed", "error", err)
				return err
			}
			if err := res.WriteSummary(stdout); err != nil {
				return errors.IOWrap(err, "write summary")
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "Path to a transaction file or a directory of .csv files (required)")
	flags.StringVar(&opts.configPath, "config", "", "Optional YAML config file; flags override it")
	flags.StringVar(&opts.processedDir, "processed-dir", defaults.Output.ProcessedDir, "Directory for the cleaned dataset")
	flags.StringVar(&opts.outputDir, "output-dir", defaults.Output.OutputDir, "Directory for metrics, tables and the report")
	flags.StringVar(&opts.sheet, "sheet", "", "Spreadsheet tab to read (default: first sheet)")
	flags.IntVar(&opts.topN, "top-n", defaults.Analyze.TopNProducts, "Number of products in the top products table")
	flags.BoolVar(&opts.dropMissingCustomerID, "drop-missing-customerid", false, "Drop rows without a customer id")
	flags.BoolVar(&opts.dropMissingDescription, "drop-missing-description", false, "Drop rows without a description")
	flags.StringVar(&opts.logLevel, "log-level", defaults.Logger.Level, "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", defaults.Logger.Format, "Log format (text, json)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// buildConfig layers defaults, the optional config file and explicitly set
// flags, then validates the result.
func buildConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("processed-dir") {
		cfg.Output.ProcessedDir = opts.processedDir
	}
	if flags.Changed("output-dir") {
		cfg.Output.OutputDir = opts.outputDir
	}
	if flags.Changed("sheet") {
		cfg.Ingest.Sheet = opts.sheet
	}
	if flags.Changed("top-n") {
		cfg.Analyze.TopNProducts = opts.topN
	}
	if flags.Changed("drop-missing-customerid") {
		cfg.Clean.DropMissingCustomerID = opts.dropMissingCustomerID
	}
	if flags.Changed("drop-missing-description") {
		cfg.Clean.DropMissingDescription = opts.dropMissingDescription
	}
	if flags.Changed("log-level") {
		cfg.Logger.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logger.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		// cobra usage errors: missing --input, unknown flag
		return 2
	}
	return errors.ExitCode(err)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
