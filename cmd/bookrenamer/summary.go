package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

func printSummary(w io.Writer, s pipeline.BatchStatistics) {
	title := "Batch " + s.BatchID
	if s.DryRun {
		title += " (dry run)"
	}
	headerColor.Fprintln(w, title)
	row(w, "Directory", s.Directory)
	row(w, "Files", humanize.Comma(int64(s.Discovered)))
	if s.DryRun {
		row(w, "Resolved", goodColor.Sprint(humanize.Comma(int64(s.Resolved))))
	} else {
		row(w, "Renamed", goodColor.Sprint(humanize.Comma(int64(s.Renamed))))
	}
	row(w, "Skipped", warnColor.Sprint(humanize.Comma(int64(s.Skipped))))
	row(w, "Failed", badColor.Sprint(humanize.Comma(int64(s.Failed))))
	row(w, "Service calls", humanize.Comma(int64(s.TotalCalls)))
	row(w, "Tokens", fmt.Sprintf("%s (avg %s per file)",
		humanize.Comma(int64(s.TotalTokens)),
		humanize.CommafWithDigits(s.AvgTokensPerFile(), 1)))
	row(w, "Elapsed", fmt.Sprintf("%s (avg %s per file)",
		s.Elapsed().Round(time.Millisecond),
		s.AvgTimePerFile().Round(time.Millisecond)))

	byKind := s.FailuresByKind()
	if len(byKind) == 0 {
		return
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	labelColor.Fprintln(w, "Not renamed:")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-22s %s\n", k, humanize.Comma(int64(byKind[constants.FailureKind(k)])))
	}
}

func printReportLine(w io.Writer, path string) {
	size := ""
	if st, err := os.Stat(path); err == nil {
		size = " (" + humanize.Bytes(uint64(st.Size())) + ")"
	}
	row(w, "Report", path+size)
}

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelColor.Sprintf("%-14s", label+":"), value)
}
