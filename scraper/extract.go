package scraper

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"shiftwatch/pkg/shift"
)

// claimedClass marks shifts the acting member has already signed up for.
const claimedClass = "my_shift"

// ParseError indicates a shift entry whose time or name could not be
// parsed. Malformed remote data is surfaced rather than silently dropped.
type ParseError struct {
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse shift %s %q: %v", e.Field, e.Raw, e.Err)
	}
	return fmt.Sprintf("parse shift %s %q", e.Field, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractMatching parses every entry in the column and keeps the ones that
// satisfy the criteria. Document order is preserved. The first entry whose
// time or name cannot be parsed fails the whole extraction.
func ExtractMatching(col *Column, c shift.Criteria) ([]shift.Record, error) {
	var matches []shift.Record
	var parseErr error

	col.entries.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rec, err := parseEntry(sel)
		if err != nil {
			parseErr = err
			return false
		}
		if rec.Matches(c) {
			matches = append(matches, rec)
		}
		return true
	})

	if parseErr != nil {
		return nil, parseErr
	}
	return matches, nil
}

func parseEntry(sel *goquery.Selection) (shift.Record, error) {
	timeRaw := sel.ChildrenFiltered("b").First().Text()
	hour, minute, err := parseClockTime(timeRaw)
	if err != nil {
		return shift.Record{}, &ParseError{Field: "time", Raw: timeRaw, Err: err}
	}

	name := entryName(sel)
	if name == "" {
		return shift.Record{}, &ParseError{Field: "name", Raw: strings.TrimSpace(sel.Text())}
	}

	return shift.Record{
		Name:    name,
		Time:    fmt.Sprintf("%02d:%02d", hour, minute),
		Hour:    hour,
		Minute:  minute,
		Claimed: sel.HasClass(claimedClass),
	}, nil
}

// entryName is the anchor text with the leading time element removed and a
// trailing symbol marker trimmed off.
func entryName(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("b").Remove()

	name := strings.Join(strings.Fields(clone.Text()), " ")
	name = strings.TrimRightFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.TrimSpace(name)
}

var clockLayouts = []string{"3:04PM", "3:04 PM", "15:04", "3PM", "3 PM"}

func parseClockTime(raw string) (hour, minute int, err error) {
	text := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	if text == "" {
		return 0, 0, fmt.Errorf("empty time text")
	}
	for _, layout := range clockLayouts {
		if t, parseErr := time.Parse(layout, text); parseErr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized clock time %q", raw)
}
