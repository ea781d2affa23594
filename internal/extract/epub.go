package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

const (
	xhtmlMediaType = "application/xhtml+xml"
	blockElements  = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, blockquote, section, article, pre"
)

var blankRun = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLines = regexp.MustCompile(`\n\s*\n+`)

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Manifest struct {
		Item []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
}

// EPUB joins the text of every XHTML document item in the package manifest.
type EPUB struct {
	cfg    Config
	logger *slog.Logger
}

func NewEPUB(cfg Config, logger *slog.Logger) *EPUB {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &EPUB{cfg: cfg, logger: logger}
}

func (e *EPUB) Extract(ctx context.Context, filePath string) (Result, error) {
	start := time.Now()
	res := Result{Format: constants.EPUB, Method: "epub-xhtml"}

	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return res, errors.WithStack(err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	opfPath, err := findOPF(files)
	if err != nil {
		return res, err
	}
	pkg, err := readOPF(files[opfPath])
	if err != nil {
		return res, err
	}

	base := path.Dir(opfPath)
	var b strings.Builder
	for _, item := range pkg.Manifest.Item {
		if err := ctx.Err(); err != nil {
			return res, errors.WithStack(err)
		}
		if item.MediaType != xhtmlMediaType {
			continue
		}
		href, err := url.PathUnescape(item.Href)
		if err != nil {
			href = item.Href
		}
		name := path.Join(base, href)
		zf, ok := files[name]
		if !ok {
			res.Warnings = append(res.Warnings, "missing manifest item "+name)
			continue
		}
		text, err := documentText(zf)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		res.Pages++
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
		if b.Len() >= e.cfg.MaxSampleChars*4 {
			break
		}
	}

	res.Text = clip(b.String(), e.cfg.MaxSampleChars)
	res.Duration = time.Since(start)
	e.logger.Debug("extract.epub.done",
		"path", filePath,
		"items", res.Pages,
		"text_len", len(res.Text),
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// findOPF follows META-INF/container.xml and falls back to the first .opf in the archive.
func findOPF(files map[string]*zip.File) (string, error) {
	if cf, ok := files["META-INF/container.xml"]; ok {
		r, err := cf.Open()
		if err != nil {
			return "", errors.WithStack(err)
		}
		var c container
		err = xml.NewDecoder(r).Decode(&c)
		r.Close()
		if err == nil {
			for _, rf := range c.Rootfiles {
				if _, ok := files[rf.FullPath]; ok {
					return rf.FullPath, nil
				}
			}
		}
	}
	for name := range files {
		if strings.EqualFold(path.Ext(name), ".opf") {
			return name, nil
		}
	}
	return "", errors.New("no opf file found")
}

func readOPF(f *zip.File) (*opfPackage, error) {
	r, err := f.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	var pkg opfPackage
	if err := xml.NewDecoder(r).Decode(&pkg); err != nil {
		return nil, errors.Wrap(err, "parse opf")
	}
	return &pkg, nil
}

func documentText(f *zip.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer r.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, 4<<20))
	if err != nil {
		return "", errors.Wrapf(err, "parse %s", f.Name)
	}
	doc.Find("script, style, head").Remove()
	// block boundaries become line breaks, otherwise adjacent paragraphs run together
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return normalizeText(sel.Text()), nil
}

func normalizeText(s string) string {
	s = blankRun.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
