// Package extract samples leading text from e-book files. Each adapter returns an error when
// the file could not be read at all and an empty Text when it was read but held no text.
package extract

import (
	"context"
	"time"
)

// TextExtractor is the per-format contract: file -> sample text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

type Result struct {
	Text     string
	Pages    int    // pages or document items that were read
	Format   string // constants.PDF | constants.EPUB | constants.MOBI
	Method   string // "pdftotext" | "epub-xhtml" | "ebook-convert"
	Duration time.Duration
	Warnings []string
}

// Config holds tool locations and sampling bounds shared by the adapters.
type Config struct {
	Pdftotext      string        // binary name or absolute path; if empty -> "pdftotext"
	Converter      string        // binary name or absolute path; if empty -> "ebook-convert"
	PDFMaxPages    int           // leading pages scanned for text, default 10
	MaxSampleChars int           // upper bound on returned text, default 8000
	Timeout        time.Duration // per external command, default 2m
}

func (c *Config) applyDefaults() {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Converter == "" {
		c.Converter = "ebook-convert"
	}
	if c.PDFMaxPages <= 0 {
		c.PDFMaxPages = 10
	}
	if c.MaxSampleChars <= 0 {
		c.MaxSampleChars = 8000
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}
