// Package report renders digest results as PDF documents.
package report

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"

	"github.com/mikeboe/paper-digest/pkg/models"
)

// ErrRender wraps every failure to produce the report file.
var ErrRender = errors.New("report rendering failed")

const (
	timestampLayout = "20060102_150405"
	maxListed       = 3

	fontFamily = "DejaVu"
)

// The PDF core fonts only cover cp1252.
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
	//go:embed fonts/DejaVuSansCondensed-Oblique.ttf
	fontOblique []byte
)

type Renderer struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Renderer)

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

func NewRenderer(dir string, opts ...Option) *Renderer {
	r := &Renderer{dir: dir, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) Dir() string {
	return r.dir
}

// Render writes the report and returns its path. Summaries appear in input order.
func (r *Renderer) Render(keyword, synthesis string, summaries []models.ArticleSummary) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrRender, r.dir, err)
	}

	generated := r.now()
	f, path, err := r.reserve(keyword, generated)
	if err != nil {
		return "", err
	}

	pdf := build(keyword, synthesis, summaries, generated)
	if err := pdf.Output(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: close %s: %v", ErrRender, path, err)
	}

	r.logger.Info("Report rendered", "path", path, "articles", len(summaries))
	return path, nil
}

// reserve creates the first free file name, appending -2, -3, ... on collision.
func (r *Renderer) reserve(keyword string, at time.Time) (*os.File, string, error) {
	base := "digest_" + Slug(keyword) + "_" + at.Format(timestampLayout)
	for i := 1; i < 1000; i++ {
		name := base + ".pdf"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.pdf", base, i)
		}
		path := filepath.Join(r.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("%w: create %s: %v", ErrRender, path, err)
		}
	}
	return nil, "", fmt.Errorf("%w: no free file name for %s", ErrRender, base)
}

// Slug lowercases keyword and replaces every run of non alphanumerics with one underscore.
func Slug(keyword string) string {
	var b strings.Builder
	pending := false
	for _, ch := range strings.ToLower(keyword) {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(ch)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String()
}

// FormatAuthors lists up to three authors and counts the rest.
func FormatAuthors(authors []string) string {
	if len(authors) == 0 {
		return "Unknown"
	}
	if len(authors) <= maxListed {
		return strings.Join(authors, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(authors[:maxListed], ", "), len(authors)-maxListed)
}

func build(keyword, synthesis string, summaries []models.ArticleSummary, generated time.Time) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle("Literature digest: "+keyword, true)
	pdf.SetCreator("paper-digest", true)
	pdf.AliasNbPages("")
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontRegular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", fontBold)
	pdf.AddUTF8FontFromBytes(fontFamily, "I", fontOblique)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	// Cover
	pdf.AddPage()
	pdf.Ln(40)
	pdf.SetFont(fontFamily, "B", 24)
	pdf.SetTextColor(26, 35, 126)
	pdf.MultiCell(0, 12, "Literature Digest", "", "C", false)
	pdf.Ln(10)
	pdf.SetFont(fontFamily, "B", 16)
	pdf.SetTextColor(40, 53, 147)
	pdf.MultiCell(0, 9, "Keyword: "+keyword, "", "C", false)
	pdf.Ln(8)
	pdf.SetFont(fontFamily, "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, 7, "Generated: "+generated.Format("2006-01-02 15:04"), "", "C", false)

	// Synthesis
	pdf.AddPage()
	sectionTitle(pdf, "Global Synthesis")
	body(pdf, synthesis)

	// Articles
	pdf.AddPage()
	sectionTitle(pdf, "Article Summaries")
	for i, s := range summaries {
		pdf.SetFont(fontFamily, "B", 12)
		pdf.SetTextColor(57, 73, 171)
		pdf.MultiCell(0, 6, fmt.Sprintf("Article %d: %s", i+1, s.Title), "", "L", false)
		pdf.Ln(1)

		field(pdf, "Authors: ", FormatAuthors(s.Authors))
		published := s.Published
		if published == "" {
			published = "n/a"
		}
		field(pdf, "Published: ", published)
		pdf.Ln(1)

		pdf.SetFont(fontFamily, "B", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(0, 5, "Summary:", "", 1, "L", false, 0, "")
		body(pdf, s.Summary)

		if s.PDFURL != "" {
			pdf.SetFont(fontFamily, "B", 10)
			pdf.Write(5, "Source: ")
			pdf.SetFont(fontFamily, "U", 10)
			pdf.SetTextColor(21, 101, 192)
			pdf.WriteLinkString(5, s.PDFURL, s.PDFURL)
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(5)
		}
		pdf.Ln(6)
	}

	return pdf
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont(fontFamily, "B", 16)
	pdf.SetTextColor(40, 53, 147)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

// body prints text justified, keeping its line breaks.
func body(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(0, 0, 0)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			pdf.Ln(3)
			continue
		}
		pdf.MultiCell(0, 5, line, "", "J", false)
	}
	pdf.Ln(2)
}

func field(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont(fontFamily, "B", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.Write(5, label)
	pdf.SetFont(fontFamily, "", 10)
	pdf.Write(5, value)
	pdf.Ln(5)
}
