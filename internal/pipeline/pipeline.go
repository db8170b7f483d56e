// Package pipeline drives one batch run: resolve inputs, load and concatenate
// them, then clean, analyze and report in order.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"retail-insights/internal/clean"
	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/ingest"
	"retail-insights/internal/models"
	"retail-insights/internal/observability"
	"retail-insights/internal/report"
	"retail-insights/internal/services"
)

// Result lists everything a completed run produced.
type Result struct {
	RunID         string
	Inputs        []string
	Stats         clean.Stats
	ProcessedPath string
	Artifacts     []services.Artifact
	ReportPath    string
	Duration      time.Duration
}

type Pipeline struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
}

// New returns a pipeline for cfg. Operator progress lines go to out; a nil out
// discards them.
func New(cfg config.Config, logger *slog.Logger, out io.Writer) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		out:    out,
	}
}

// ResolveInputs expands path into the files to load. A directory yields its
// files with extension ext, non-recursive and sorted by name; a file is
// returned as is.
func ResolveInputs(path, ext string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.IOWrap(err, fmt.Sprintf("stat %s", path))
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.IOWrap(err, fmt.Sprintf("read directory %s", path))
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	if len(files) == 0 {
		return nil, errors.NoInputFiles(path, ext)
	}
	return files, nil
}

// Run executes every stage once. Any error aborts the run; outputs written by
// earlier stages are left in place.
func (p *Pipeline) Run(ctx context.Context, input string) (*Result, error) {
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := p.logger.With("run_id", runID)

	logger.Info("pipeline started",
		"input", input,
		"processed_dir", p.cfg.Output.ProcessedDir,
		"output_dir", p.cfg.Output.OutputDir)

	ctx, span := observability.StartSpan(ctx, "pipeline")
	res := &Result{RunID: runID}
	err := p.run(ctx, logger, input, res)
	span.End(logger, err)
	if err != nil {
		return nil, err
	}

	res.Duration = span.Duration
	logger.Info("pipeline completed",
		"files", len(res.Inputs),
		"rows", res.Stats.Output,
		"duration", res.Duration)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, input string, res *Result) error {
	inputs, err := ResolveInputs(input, p.cfg.Ingest.DiscoverExtension)
	if err != nil {
		return err
	}
	res.Inputs = inputs

	var table *models.Table
	err = p.stage(ctx, logger, "ingest", func(ctx context.Context, span *observability.Span) error {
		loader := ingest.NewLoader(p.cfg.Ingest, logger)
		tables := make([]*models.Table, 0, len(inputs))
		for _, path := range inputs {
			fmt.Fprintf(p.out, "Loading: %s\n", path)
			t, err := loader.Load(ctx, path)
			if err != nil {
				return err
			}
			tables = append(tables, t)
		}
		table = models.Concat(tables...)
		span.SetTag("files", strconv.Itoa(len(tables)))
		span.SetTag("rows", strconv.Itoa(len(table.Rows)))
		return nil
	})
	if err != nil {
		return err
	}

	var ds *models.Dataset
	err = p.stage(ctx, logger, "clean", func(ctx context.Context, span *observability.Span) error {
		cleaner := clean.NewCleaner(p.cfg.Clean, logger)
		ds, res.Stats = cleaner.Clean(table)
		span.SetTag("rows", strconv.Itoa(res.Stats.Output))

		path, err := cleaner.Save(ds, p.cfg.Output.ProcessedDir)
		if err != nil {
			return err
		}
		res.ProcessedPath = path
		return nil
	})
	if err != nil {
		return err
	}

	var analysis *services.Result
	err = p.stage(ctx, logger, "analyze", func(ctx context.Context, span *observability.Span) error {
		analytics := services.NewAnalytics(p.cfg.Analyze, logger)
		analysis = analytics.Compute(ds)
		span.SetTag("anomalies", strconv.Itoa(len(analysis.Anomalies)))

		artifacts, err := analytics.Save(analysis, p.cfg.Output.OutputDir)
		if err != nil {
			return err
		}
		res.Artifacts = artifacts
		return nil
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, logger, "report", func(ctx context.Context, span *observability.Span) error {
		path, err := report.NewReporter(p.cfg.Report, logger).Generate(analysis, p.cfg.Output.OutputDir)
		if err != nil {
			return err
		}
		res.ReportPath = path
		return nil
	})
}

// stage runs fn inside a span. Cancellation is only observed between stages;
// a panic in fn is returned as an internal error.
func (p *Pipeline) stage(ctx context.Context, logger *slog.Logger, name string,
	fn func(ctx context.Context, span *observability.Span) error,
) (err error) {
	if err := ctx.Err(); err != nil {
		return errors.InternalWrap(err, fmt.Sprintf("pipeline interrupted before %s", name))
	}

	ctx, span := observability.StartSpan(ctx, name)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", "stage", name, "panic", r)
			err = errors.Internal(fmt.Sprintf("unexpected failure in %s stage: %v", name, r))
		}
		span.End(logger, err)
	}()

	return fn(ctx, span)
}

// WriteSummary prints the completion banner and every artifact path.
func (r *Result) WriteSummary(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Pipeline completed.\n")
	fmt.Fprintf(&b, "Processed data: %s\n", r.ProcessedPath)
	for _, a := range r.Artifacts {
		fmt.Fprintf(&b, "%s: %s\n", a.Name, a.Path)
	}
	fmt.Fprintf(&b, "Report: %s\n", r.ReportPath)

	_, err := io.WriteString(w, b.String())
	return err
}
