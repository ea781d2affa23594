package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
)

const (
	filesSheet   = "Files"
	summarySheet = "Summary"
)

// Service produces XLSX reports for finished batches.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// BatchXLSX returns a workbook with one row per file and a summary sheet.
func (s *Service) BatchXLSX(stats pipeline.BatchStatistics) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	for _, sheet := range []string{filesSheet, summarySheet} {
		if index, _ := f.GetSheetIndex(sheet); index == -1 {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, err
			}
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(filesSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Original File",
		"Format",
		"Status",
		"New Name",
		"Failure Kind",
		"Reason",
		"Phase",
		"Language",
		"Calls",
		"Tokens",
		"Elapsed (s)",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(filesSheet, cell, h)
	}

	row := 2
	for _, r := range stats.Results {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(filesSheet, cell, v)
		}

		newName := ""
		if r.NewPath != "" {
			newName = filepath.Base(r.NewPath)
		}
		lang := r.Language
		if r.LanguageDefaulted && lang != "" {
			lang += " (default)"
		}

		write(1, r.FileName())
		write(2, r.Format)
		write(3, string(r.Status))
		write(4, newName)
		write(5, string(r.Kind))
		write(6, truncate(r.Reason, 240))
		write(7, r.Phase)
		write(8, lang)
		write(9, r.Calls)
		write(10, r.TokenCost)
		write(11, roundSeconds(r.Elapsed))
		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(filesSheet, "A", "A", 48) // original
	_ = f.SetColWidth(filesSheet, "B", "C", 12)
	_ = f.SetColWidth(filesSheet, "D", "D", 48) // new name
	_ = f.SetColWidth(filesSheet, "E", "E", 22)
	_ = f.SetColWidth(filesSheet, "F", "F", 60) // reason
	_ = f.SetColWidth(filesSheet, "G", "K", 12)

	summary := [][2]any{
		{"Batch ID", stats.BatchID},
		{"Directory", stats.Directory},
		{"Dry Run", stats.DryRun},
		{"Started", stats.Start.Format(time.RFC3339)},
		{"Finished", stats.End.Format(time.RFC3339)},
		{"Elapsed (s)", roundSeconds(stats.Elapsed())},
		{"Files Discovered", stats.Discovered},
		{"Renamed", stats.Renamed},
		{"Resolved (dry run)", stats.Resolved},
		{"Skipped", stats.Skipped},
		{"Failed", stats.Failed},
		{"Service Calls", stats.TotalCalls},
		{"Total Tokens", stats.TotalTokens},
		{"Avg Tokens / File", round2(stats.AvgTokensPerFile())},
		{"Avg Seconds / File", roundSeconds(stats.AvgTimePerFile())},
		{"Peak Concurrent Calls", stats.PeakInFlight},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 24)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"batch_id", stats.BatchID,
		"rows", len(stats.Results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteBatchXLSX writes the batch report to path.
func (s *Service) WriteBatchXLSX(stats pipeline.BatchStatistics, path string) error {
	b, err := s.BatchXLSX(stats)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func roundSeconds(d time.Duration) float64 {
	return round2(d.Seconds())
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
