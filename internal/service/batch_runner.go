package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"registrar/internal/config"
	"registrar/internal/domain"
	"registrar/internal/export"
)

// ExperimentLayout is the timestamp layout of experiment folder names.
const ExperimentLayout = "20060102_150405"

// BatchReport is the outcome of one report in a batch. Name is the report
// file stem, suffixed with _2, _3 ... when the same file is drawn again.
type BatchReport struct {
	Name     string
	Path     string
	Output   string
	Document *domain.OutputDocument
	Failures []domain.ExtractorFailure
	Elapsed  time.Duration
	Err      error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Dir     string
	Reports []BatchReport
}

// Failed counts reports that did not produce a document.
func (r *BatchResult) Failed() int {
	n := 0
	for i := range r.Reports {
		if r.Reports[i].Err != nil {
			n++
		}
	}
	return n
}

// BatchRunner runs folders of *.txt reports through the pipeline and writes
// the experiment artifacts into an experiment folder.
type BatchRunner struct {
	runner ReportRunner
	cfg    config.BatchConfig
	logger *slog.Logger
	pick   func(n int) int
}

// NewBatchRunner creates a new BatchRunner.
func NewBatchRunner(runner ReportRunner, cfg config.BatchConfig, logger *slog.Logger) *BatchRunner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &BatchRunner{runner: runner, cfg: cfg, logger: logger, pick: rand.IntN}
}

// CreateExperimentDir creates base/experiment_<YYYYMMDD_HHMMSS>.
func CreateExperimentDir(base string, now time.Time) (string, error) {
	dir := filepath.Join(base, "experiment_"+now.Format(ExperimentLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating experiment folder: %w", err)
	}
	return dir, nil
}

// ListReports returns the *.txt files of dir, sorted.
func ListReports(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input folder: %s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// RunFolder processes every report in inputDir, writing into outDir.
func (b *BatchRunner) RunFolder(ctx context.Context, inputDir, outDir string) (*BatchResult, error) {
	files, err := ListReports(inputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		b.logger.Warn("batch.empty", "input", inputDir)
	}
	return b.run(ctx, files, outDir)
}

// RunRandom processes count reports drawn at random, with replacement, from
// inputDir.
func (b *BatchRunner) RunRandom(ctx context.Context, inputDir, outDir string, count int) (*BatchResult, error) {
	files, err := ListReports(inputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		b.logger.Warn("batch.empty", "input", inputDir)
		return b.run(ctx, nil, outDir)
	}
	picks := make([]string, count)
	for i := range picks {
		picks[i] = files[b.pick(len(files))]
	}
	return b.run(ctx, picks, outDir)
}

func (b *BatchRunner) run(ctx context.Context, files []string, outDir string) (*BatchResult, error) {
	timingFile, err := os.OpenFile(filepath.Join(outDir, b.cfg.TimingFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening timing log: %w", err)
	}
	defer func() { _ = timingFile.Close() }()
	timing := export.NewTimingWriter(timingFile)

	b.logger.Info("batch.start",
		"reports", len(files),
		"output", outDir,
		"concurrency", b.cfg.Concurrency,
		"timeout", b.cfg.ReportTimeout,
	)

	names := reportNames(files)
	result := &BatchResult{Dir: outDir, Reports: make([]BatchReport, len(files))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rep := b.process(gctx, path, names[i], outDir)
			result.Reports[i] = rep
			if rep.Err != nil {
				if errors.Is(rep.Err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			if err := timing.Write(export.TimingRow{
				Name:     rep.Name,
				Eligible: rep.Document.CancerExcisionReport,
				Elapsed:  rep.Elapsed,
			}); err != nil {
				return fmt.Errorf("writing timing log: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	if b.cfg.SummaryFile != "" {
		if err := b.writeSummary(result); err != nil {
			return result, err
		}
	}
	b.logger.Info("batch.done", "reports", len(files), "failed", result.Failed())
	return result, nil
}

// reportNames returns one distinct name per entry of files. Repeated files
// get a numeric suffix that does not clash with any other file stem.
func reportNames(files []string) []string {
	stems := make([]string, len(files))
	taken := make(map[string]bool, len(files))
	for i, path := range files {
		stems[i] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		taken[stems[i]] = true
	}
	names := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	for i, stem := range stems {
		if !seen[stem] {
			seen[stem] = true
			names[i] = stem
			continue
		}
		for n := 2; ; n++ {
			name := fmt.Sprintf("%s_%d", stem, n)
			if !taken[name] {
				taken[name] = true
				names[i] = name
				break
			}
		}
	}
	return names
}

func (b *BatchRunner) process(ctx context.Context, path, name, outDir string) BatchReport {
	rep := BatchReport{Name: name, Path: path}
	log := b.logger.With("report", name)

	log.Info("batch.report.start", "file", filepath.Base(path))
	text, err := os.ReadFile(path)
	if err != nil {
		rep.Err = fmt.Errorf("reading report: %w", err)
		log.Error("batch.report.failed", "error", rep.Err)
		return rep
	}

	rctx := ctx
	if b.cfg.ReportTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, b.cfg.ReportTimeout)
		defer cancel()
	}

	res, err := b.runner.Run(rctx, string(text), name)
	if err != nil {
		rep.Err = err
		log.Error("batch.report.failed", "error", err)
		return rep
	}
	rep.Document = res.Document
	rep.Failures = res.Failures
	rep.Elapsed = res.Elapsed

	body, err := EncodeDocument(res.Document)
	if err != nil {
		rep.Err = err
		log.Error("batch.report.failed", "error", err)
		return rep
	}
	rep.Output = filepath.Join(outDir, name+"_output.json")
	if err := os.WriteFile(rep.Output, body, 0o644); err != nil {
		rep.Err = fmt.Errorf("writing output: %w", err)
		log.Error("batch.report.failed", "error", rep.Err)
		return rep
	}
	log.Info("batch.report.ok", "output", rep.Output, "elapsed", rep.Elapsed)
	return rep
}

func (b *BatchRunner) writeSummary(result *BatchResult) error {
	rows := make([]export.SummaryRow, 0, len(result.Reports))
	for i := range result.Reports {
		rep := &result.Reports[i]
		if rep.Name == "" {
			continue
		}
		row := export.SummaryRow{Name: rep.Name, Elapsed: rep.Elapsed.Seconds()}
		if rep.Err != nil {
			row.Error = rep.Err.Error()
		}
		if doc := rep.Document; doc != nil {
			row.Eligible = doc.CancerExcisionReport
			row.Fields = len(doc.CancerData)
			if doc.CancerCategory != nil {
				row.Category = *doc.CancerCategory
			}
			if doc.OthersDescription != nil {
				row.OthersDescription = *doc.OthersDescription
			}
		}
		for _, f := range rep.Failures {
			row.FailedExtractors = append(row.FailedExtractors, f.Extractor)
		}
		rows = append(rows, row)
	}

	path := filepath.Join(result.Dir, b.cfg.SummaryFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating summary: %w", err)
	}
	if err := export.WriteSummary(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
