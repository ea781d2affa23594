package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/export"
	"github.com/joseph-ayodele/bookrenamer/internal/extract"
	"github.com/joseph-ayodele/bookrenamer/internal/llm/openai"
	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
	"github.com/joseph-ayodele/bookrenamer/internal/repository"
	"github.com/joseph-ayodele/bookrenamer/internal/resolve"
)

var (
	runDir         string
	runConcurrency int
	runDryRun      bool
	runReport      string
	runNoPreflight bool
)

func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runDir, "dir", "d", "", "Directory holding the e-books (defaults to PDF_DIR)")
	cmd.Flags().IntVarP(&runConcurrency, "concurrency", "n", 0, "Maximum in-flight completion calls")
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Resolve names without renaming anything")
	cmd.Flags().StringVar(&runReport, "report", "", "Write an XLSX report of the batch to this path")
	cmd.Flags().BoolVar(&runNoPreflight, "no-preflight", false, "Skip the connectivity check before the batch")
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Source.Dir = runDir
	}
	if flags.Changed("concurrency") {
		cfg.Batch.Concurrency = runConcurrency
	}
	if flags.Changed("dry-run") {
		cfg.Batch.DryRun = runDryRun
	}
	if flags.Changed("report") {
		cfg.Report.Path = runReport
	}
	if runNoPreflight {
		cfg.Batch.Preflight = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireSource(); err != nil {
		return err
	}
	if err := cfg.RequireLLM(); err != nil {
		return err
	}

	ctx := cmd.Context()

	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	extractor := extract.NewRouter(extract.Config{
		Pdftotext:      cfg.Extract.PdftotextBin,
		Converter:      cfg.Extract.ConverterBin,
		PDFMaxPages:    cfg.Extract.PDFMaxPages,
		MaxSampleChars: cfg.Extract.MaxSampleChars,
		Timeout:        cfg.Extract.Timeout,
	}, extract.ExecRunner{Logger: logger}, logger)

	opts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.Batch.Concurrency),
		pipeline.WithWorkers(cfg.Batch.Workers),
		pipeline.WithCallTimeout(cfg.LLM.Timeout),
		pipeline.WithRequestsPerSecond(cfg.LLM.RequestsPerSecond),
		pipeline.WithDryRun(cfg.Batch.DryRun),
		pipeline.WithDetector(resolve.NewWhatlangDetector()),
		pipeline.WithResolveOptions(resolve.Options{
			PrimaryModel:        cfg.LLM.PrimaryModel,
			FallbackModel:       cfg.LLM.FallbackModel,
			PrimaryMaxTokens:    cfg.LLM.PrimaryMaxTokens,
			FallbackMaxTokens:   cfg.LLM.FallbackMaxTokens,
			LanguageSampleChars: cfg.Extract.LanguageSampleChars,
			FallbackSampleChars: cfg.Extract.FallbackSampleChars,
		}),
	}
	if cfg.Batch.Preflight {
		opts = append(opts, pipeline.WithPreflight(client, cfg.LLM.FallbackModel))
	}

	ledger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		// history is optional for a batch; undo will simply not know about this one
		logger.Warn("ledger.unavailable", "error", err)
	}
	if ledger != nil {
		defer ledger.Close()
		opts = append(opts, pipeline.WithRecorder(ledger))
	}

	orch := pipeline.NewOrchestrator(client, extractor, rename.NewExecutor(logger), logger, opts...)
	stats, err := orch.RunBatch(ctx, cfg.Source.Dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, stats)

	if cfg.Report.Path != "" {
		if err := export.NewService(logger).WriteBatchXLSX(stats, cfg.Report.Path); err != nil {
			// the renames already happened; a missing report does not fail the run
			logger.Error("report.write.failed", "path", cfg.Report.Path, "error", err)
		} else {
			printReportLine(out, cfg.Report.Path)
		}
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Batch interrupted; unstarted files were skipped.")
	}
	return nil
}

// openLedger returns nil, nil when the ledger is disabled.
func openLedger(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*repository.Ledger, error) {
	if cfg.Ledger.DSN == "" {
		return nil, nil
	}
	return repository.Open(ctx, repository.Config{
		DSN:         cfg.Ledger.DSN,
		DialTimeout: 10 * time.Second,
	}, logger)
}
