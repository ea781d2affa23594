package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pkg/errors"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// PageCounter reports how many pages a PDF has.
type PageCounter func(path string) (int, error)

// PDF samples the leading pages with pdftotext and returns the first page that has text.
type PDF struct {
	cfg    Config
	runner Runner
	pages  PageCounter
	logger *slog.Logger
}

func NewPDF(cfg Config, runner Runner, logger *slog.Logger) *PDF {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &PDF{cfg: cfg, runner: runner, pages: api.PageCountFile, logger: logger}
}

// WithPageCounter replaces the pdfcpu page counter.
func (p *PDF) WithPageCounter(pc PageCounter) *PDF {
	p.pages = pc
	return p
}

func (p *PDF) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res := Result{Format: constants.PDF, Method: "pdftotext"}

	last := p.cfg.PDFMaxPages
	if n, err := p.pages(path); err != nil {
		// pdfcpu is stricter than poppler; let pdftotext have a go anyway
		res.Warnings = append(res.Warnings, fmt.Sprintf("page count: %v", err))
		p.logger.Warn("extract.pdf.page_count_failed", "path", path, "error", err)
	} else if n < last {
		last = n
	}
	if last < 1 {
		res.Duration = time.Since(start)
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	// pdftotext -f 1 -l N -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.runner.Run(ctx, p.cfg.Pdftotext,
		"-f", "1", "-l", strconv.Itoa(last),
		"-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	res.Duration = time.Since(start)
	if err != nil {
		return res, errors.Wrapf(err, "pdftotext %s: %s", path, truncate(strings.TrimSpace(string(errb)), 200))
	}

	// A form-feed \f is used as page separator by default
	for i, page := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		res.Pages = i + 1
		res.Text = clip(page, p.cfg.MaxSampleChars)
		break
	}

	p.logger.Debug("extract.pdf.done",
		"path", path,
		"scanned_pages", last,
		"text_page", res.Pages,
		"text_len", len(res.Text),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
