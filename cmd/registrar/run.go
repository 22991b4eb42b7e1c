package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"registrar/internal/app"
	"registrar/internal/config"
	"registrar/internal/service"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every *.txt report in a folder",
		Long: `Run processes every *.txt report in the input folder and writes the results
into a new experiment_<YYYYMMDD_HHMMSS> folder under the output directory:

  <report>_output.json   one output document per report
  timing.csv             name,eligible,elapsed rows
  summary.xlsx           per-report and per-category workbook
  experiment_<ts>.log    the run log

Examples:
  registrar run --input reports/tcga1
  registrar run --input reports --model gemma27b --concurrency 4 --timeout 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, false)
		},
	}
	addBatchFlags(cmd)
	return cmd
}

// NewRandomCmd creates the random command.
func NewRandomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "random",
		Short: "Run reports drawn at random from a folder",
		Long: `Random draws --count reports from the input folder, with replacement, and
runs them like the run command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, true)
		},
	}
	addBatchFlags(cmd)
	cmd.Flags().IntP("count", "n", 0, "Number of reports to draw (default from config)")
	return cmd
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "Folder of *.txt reports (default from config)")
	cmd.Flags().StringP("output", "o", "", "Parent folder for experiment folders (default from config)")
	cmd.Flags().IntP("concurrency", "j", 0, "Reports processed in parallel (default from config)")
	cmd.Flags().DurationP("timeout", "t", 0, "Per-report timeout (default from config)")
	cmd.Flags().Bool("no-summary", false, "Skip the XLSX summary")
}

// applyBatchFlags overrides the batch config with any flags that were set.
func applyBatchFlags(cmd *cobra.Command, cfg *config.BatchConfig) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("timeout") {
		cfg.ReportTimeout, _ = flags.GetDuration("timeout")
	}
	if noSummary, _ := flags.GetBool("no-summary"); noSummary {
		cfg.SummaryFile = ""
	}
	if flags.Lookup("count") != nil && flags.Changed("count") {
		cfg.RandomCount, _ = flags.GetInt("count")
	}
}

// runBatch runs the whole input folder, or batch.random_count random reports.
func runBatch(cmd *cobra.Command, random bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyBatchFlags(cmd, &cfg.Batch)
	if random && cfg.Batch.RandomCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if cfg.Batch.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}

	started := time.Now()
	dir, err := service.CreateExperimentDir(cfg.Batch.OutputDir, started)
	if err != nil {
		return err
	}
	logFile, err := os.Create(filepath.Join(dir, "experiment_"+started.Format(service.ExperimentLayout)+".log"))
	if err != nil {
		return fmt.Errorf("creating experiment log: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	logger := newLogger(cfg, logFile)
	logger.Info("experiment.start", "dir", dir, "input", cfg.Batch.InputDir, "model", cfg.Backend.Primary.Model)

	components, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := service.NewBatchRunner(components.Pipeline, cfg.Batch, logger)
	var res *service.BatchResult
	if random {
		res, err = runner.RunRandom(ctx, cfg.Batch.InputDir, dir, cfg.Batch.RandomCount)
	} else {
		res, err = runner.RunFolder(ctx, cfg.Batch.InputDir, dir)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d reports, %d failed, %s -> %s\n",
		len(res.Reports), res.Failed(), time.Since(started).Round(time.Millisecond), dir)
	return nil
}
