package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// Router picks the adapter by extension. When that adapter fails or finds no text and the
// file content says it is actually another supported format, that adapter gets one try.
type Router struct {
	byFormat map[string]TextExtractor
	sniff    func(path string) string
	logger   *slog.Logger
}

func NewRouter(cfg Config, runner Runner, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return NewRouterWith(map[string]TextExtractor{
		constants.PDF:  NewPDF(cfg, runner, logger),
		constants.EPUB: NewEPUB(cfg, logger),
		constants.MOBI: NewMobi(cfg, runner, logger),
	}, logger)
}

// NewRouterWith builds a router over explicit adapters.
func NewRouterWith(adapters map[string]TextExtractor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{byFormat: adapters, sniff: SniffFormat, logger: logger}
}

func (r *Router) Extract(ctx context.Context, path string) (Result, error) {
	format := constants.MapExtToFormat(filepath.Ext(path))
	adapter, ok := r.byFormat[format]
	if !ok {
		return Result{}, fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}

	res, err := adapter.Extract(ctx, path)
	if err == nil && strings.TrimSpace(res.Text) != "" {
		return res, nil
	}

	sniffed := r.sniff(path)
	alt, ok := r.byFormat[sniffed]
	if sniffed == "" || sniffed == format || !ok {
		return res, err
	}

	r.logger.Info("extract.format_mismatch",
		"path", path,
		"ext_format", format,
		"sniffed_format", sniffed,
		"first_error", err,
	)
	altRes, altErr := alt.Extract(ctx, path)
	if altErr != nil {
		if err != nil {
			return res, err
		}
		return res, nil
	}
	altRes.Warnings = append(altRes.Warnings, fmt.Sprintf("extension says %s, content is %s", format, sniffed))
	return altRes, nil
}

// SniffFormat detects the e-book format from file content, or "" when it is not one.
func SniffFormat(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	for m := mtype; m != nil; m = m.Parent() {
		if f := constants.MapMimeToFormat(m.String()); f != "" {
			return f
		}
	}
	return ""
}
