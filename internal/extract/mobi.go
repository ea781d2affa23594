package extract

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// Mobi converts MOBI/AZW3 files to plain text with calibre's ebook-convert. The intermediate
// text file lives in a private temp directory that is removed whatever the outcome.
type Mobi struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewMobi(cfg Config, runner Runner, logger *slog.Logger) *Mobi {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Mobi{cfg: cfg, runner: runner, logger: logger}
}

func (m *Mobi) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res := Result{Format: constants.MOBI, Method: "ebook-convert"}

	tmpDir, err := os.MkdirTemp("", "bookrenamer-*")
	if err != nil {
		return res, errors.WithStack(err)
	}
	defer func(dir string) {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("extract.mobi.cleanup_failed", "dir", dir, "error", err)
		}
	}(tmpDir)

	out := filepath.Join(tmpDir, "book.txt")

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	// ebook-convert <in.mobi> <tmp/book.txt>
	_, errb, err := m.runner.Run(ctx, m.cfg.Converter, path, out)
	res.Duration = time.Since(start)
	if err != nil {
		return res, errors.Wrapf(err, "%s %s: %s", m.cfg.Converter, filepath.Base(path), truncate(strings.TrimSpace(string(errb)), 200))
	}

	b, err := os.ReadFile(out)
	if err != nil {
		return res, errors.Wrap(err, "read converted text")
	}
	res.Pages = 1
	res.Text = clip(strings.TrimSpace(string(b)), m.cfg.MaxSampleChars)

	m.logger.Debug("extract.mobi.done",
		"path", path,
		"text_len", len(res.Text),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
