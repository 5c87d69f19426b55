package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for published dates on the wire.
const DateLayout = "2006-01-02"

var (
	ErrMissingID    = errors.New("article id is required")
	ErrMissingTitle = errors.New("article title is required")
)

// Article is a single search hit as returned by an article source.
type Article struct {
	ID         string    `json:"entry_id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Abstract   string    `json:"summary"`
	Published  time.Time `json:"-"`
	PDFURL     string    `json:"pdf_url"`
	Categories []string  `json:"categories"`
	Keyword    string    `json:"keyword,omitempty"`
}

// NewArticle builds an Article and checks the fields every layer relies on.
func NewArticle(id, title string, authors []string, abstract string, published time.Time, pdfURL string, categories []string, keyword string) (Article, error) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" {
		return Article{}, ErrMissingID
	}
	if title == "" {
		return Article{}, ErrMissingTitle
	}
	return Article{
		ID:         id,
		Title:      title,
		Authors:    cloneStrings(authors),
		Abstract:   strings.TrimSpace(abstract),
		Published:  truncateToDate(published),
		PDFURL:     pdfURL,
		Categories: cloneStrings(categories),
		Keyword:    keyword,
	}, nil
}

// PublishedDate returns the published date as YYYY-MM-DD, or "" when unknown.
func (a Article) PublishedDate() string {
	if a.Published.IsZero() {
		return ""
	}
	return a.Published.Format(DateLayout)
}

// EmbeddingText is the text an article is embedded from when it is stored.
func (a Article) EmbeddingText() string {
	return a.Title + "\n\n" + a.Abstract
}

type articleJSON struct {
	ID         string   `json:"entry_id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Abstract   string   `json:"summary"`
	Published  string   `json:"published"`
	PDFURL     string   `json:"pdf_url"`
	Categories []string `json:"categories"`
	Keyword    string   `json:"keyword,omitempty"`
}

// MarshalJSON writes the published date as YYYY-MM-DD.
func (a Article) MarshalJSON() ([]byte, error) {
	return json.Marshal(articleJSON{
		ID:         a.ID,
		Title:      a.Title,
		Authors:    cloneStrings(a.Authors),
		Abstract:   a.Abstract,
		Published:  a.PublishedDate(),
		PDFURL:     a.PDFURL,
		Categories: cloneStrings(a.Categories),
		Keyword:    a.Keyword,
	})
}

// UnmarshalJSON accepts a YYYY-MM-DD or RFC 3339 published date.
func (a *Article) UnmarshalJSON(data []byte) error {
	var raw articleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	published, err := ParseDate(raw.Published)
	if err != nil {
		return err
	}
	*a = Article{
		ID:         raw.ID,
		Title:      raw.Title,
		Authors:    cloneStrings(raw.Authors),
		Abstract:   raw.Abstract,
		Published:  published,
		PDFURL:     raw.PDFURL,
		Categories: cloneStrings(raw.Categories),
		Keyword:    raw.Keyword,
	}
	return nil
}

// ParseDate parses YYYY-MM-DD or RFC 3339 and truncates to the calendar date.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid published date %q: %w", value, err)
	}
	return truncateToDate(t), nil
}

// ArticleSummary is the per-article output of the summarization stage.
type ArticleSummary struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Published string   `json:"published"`
	PDFURL    string   `json:"pdf_url"`
	Summary   string   `json:"summary"`
	Error     string   `json:"error,omitempty"`
}

// NewArticleSummary copies the article metadata verbatim next to the generated text.
func NewArticleSummary(a Article, summary string) ArticleSummary {
	return ArticleSummary{
		Title:     a.Title,
		Authors:   cloneStrings(a.Authors),
		Published: a.PublishedDate(),
		PDFURL:    a.PDFURL,
		Summary:   summary,
	}
}

// FailedArticleSummary keeps the article's slot when its summary could not be produced.
func FailedArticleSummary(a Article, placeholder string, err error) ArticleSummary {
	s := NewArticleSummary(a, placeholder)
	if err != nil {
		s.Error = err.Error()
	} else {
		s.Error = "summary unavailable"
	}
	return s
}

// Failed reports whether the summary carries an error marker.
func (s ArticleSummary) Failed() bool {
	return s.Error != ""
}

// RunResult is the terminal aggregate of one pipeline run.
type RunResult struct {
	RunID            string           `json:"run_id,omitempty"`
	Success          bool             `json:"success"`
	Keyword          string           `json:"keyword,omitempty"`
	ArticlesCount    int              `json:"articles_count"`
	StoredCount      int              `json:"stored_count"`
	QuickSummary     string           `json:"quick_summary,omitempty"`
	GlobalSynthesis  string           `json:"global_synthesis"`
	ArticleSummaries []ArticleSummary `json:"article_summaries"`
	PDFPath          *string          `json:"pdf_path"`
	ReportURI        string           `json:"report_uri,omitempty"`
	Error            string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// Clone returns a deep copy so callers cannot mutate a stored result.
func (r RunResult) Clone() RunResult {
	out := r
	if r.ArticleSummaries != nil {
		out.ArticleSummaries = make([]ArticleSummary, len(r.ArticleSummaries))
		for i, s := range r.ArticleSummaries {
			s.Authors = cloneStrings(s.Authors)
			out.ArticleSummaries[i] = s
		}
	}
	if r.PDFPath != nil {
		p := *r.PDFPath
		out.PDFPath = &p
	}
	return out
}

func truncateToDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
