// Package scraper fetches coop calendar pages and extracts shift entries
// from the column matching a target date.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"shiftwatch/pkg/shift"
)

// pageCount bounds the scan: the calendar is paginated and the target date
// is expected within the first six pages.
const pageCount = 6

// ErrDateNotFound means no column on any scanned page matched the target
// date. The caller treats this as a configuration problem, not transient.
var ErrDateNotFound = errors.New("no calendar column matched the target date")

// Column is the portion of one calendar page holding a single date's shifts.
// Ephemeral: created per scan, discarded after extraction.
type Column struct {
	Date    time.Time
	entries *goquery.Selection // a.shift anchors in document order
}

// Len returns the number of shift entries in the column.
func (c *Column) Len() int { return c.entries.Length() }

// Scanner locates the calendar column for a date.
type Scanner struct {
	logger  *slog.Logger
	now     func() time.Time
	baseURL string
}

// New creates a scanner for the site at baseURL.
func New(baseURL string, logger *slog.Logger) *Scanner {
	return &Scanner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// MatchingShifts scans the calendar for the target date and returns the
// filtered shift records, in document order.
func (s *Scanner) MatchingShifts(ctx context.Context, client *http.Client, c shift.Criteria) ([]shift.Record, error) {
	col, err := s.FindColumn(ctx, client, c.TargetDate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Found calendar column for target date",
		"date", col.Date.Format("2006-01-02"),
		"entries", col.Len())

	return ExtractMatching(col, c)
}

// FindColumn fetches calendar pages sequentially, up to the fixed page
// bound, and returns the first column whose header date equals target.
// Pages past the first match are never fetched.
func (s *Scanner) FindColumn(ctx context.Context, client *http.Client, target time.Time) (*Column, error) {
	for page := 0; page < pageCount; page++ {
		doc, err := s.fetchPage(ctx, client, page)
		if err != nil {
			return nil, err
		}

		if col, found := s.findInPage(doc, target); found {
			s.logger.Info("Found shifts page for chosen date", "page", page)
			return col, nil
		}
	}
	return nil, ErrDateNotFound
}

func (s *Scanner) fetchPage(ctx context.Context, client *http.Client, page int) (*goquery.Document, error) {
	pageURL := s.pageURL(page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	startTime := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("fetch calendar page %d: %w", page, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Debug("Calendar page fetched",
		"page", page,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar page %d returned HTTP %d", page, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse calendar page %d: %w", page, err)
	}
	return doc, nil
}

// The calendar is indexed from today's date; the page number selects the
// week offset.
func (s *Scanner) pageURL(page int) string {
	return fmt.Sprintf("%s/services/shifts/%d/0/0/%s/", s.baseURL, page, s.now().Format("2006-01-02"))
}

func (s *Scanner) findInPage(doc *goquery.Document, target time.Time) (*Column, bool) {
	grid := doc.Find("div.grid-container").First()

	var match *Column
	grid.ChildrenFiltered("div.col").EachWithBreak(func(_ int, col *goquery.Selection) bool {
		header := strings.TrimSpace(col.Find("p b").First().Text())
		date, err := dateparse.ParseAny(header)
		if err != nil {
			s.logger.Warn("Skipping column with unparseable header date", "header", header, "error", err)
			return true
		}
		s.logger.Debug("Inspecting calendar column", "date", date.Format("2006-01-02"))

		if !shift.SameDate(date, target) {
			return true
		}
		match = &Column{
			Date:    date,
			entries: col.Find("a.shift"),
		}
		return false
	})

	return match, match != nil
}
