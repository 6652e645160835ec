// Package timeparsing turns the --since flag into a point in time.
//
// Parsing is layered; the first layer that accepts the input wins:
//  1. Compact duration (2d, -6h, 1w): a span back from now
//  2. Absolute timestamp (RFC3339, date and date-time layouts)
//  3. Natural language (yesterday, last monday, 3 days ago)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]), e.g. 6h, -1d, +2w.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// absoluteLayouts are tried in order. Layouts without a zone are read in
// the location of the reference time.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var nlp = newNLP()

func newNLP() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseCompactDuration applies a compact duration to now.
//
// Units: h hours, d days, w weeks, m months, y years. An unsigned amount
// moves forward: "3m" is now plus three months.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	amount, unit, err := splitCompact(s)
	if err != nil {
		return time.Time{}, err
	}
	return applyDuration(now, amount, unit), nil
}

// IsCompactDuration reports whether s uses compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

func splitCompact(s string) (int, string, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, "", fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	return amount, m[3], nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	}
	return base
}

// ParseAbsolute parses a timestamp in one of the accepted layouts.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}

// ParseNaturalLanguage parses expressions like "yesterday" or "3 days ago"
// relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlp.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse %q as a time expression", s)
	}
	return r.Time, nil
}

// ParseSince resolves a --since value against now. A compact duration
// always points back in time: "2d" and "-2d" both mean two days ago.
// Times after now are rejected since no change can be newer than the run.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	var t time.Time
	if amount, unit, err := splitCompact(s); err == nil {
		if amount > 0 {
			amount = -amount
		}
		t = applyDuration(now, amount, unit)
	} else if abs, err := ParseAbsolute(s, now.Location()); err == nil {
		t = abs
	} else if rel, err := ParseNaturalLanguage(s, now); err == nil {
		t = rel
	} else {
		return time.Time{}, fmt.Errorf("unrecognized time %q (try 2d, 2024-05-01 or \"yesterday\")", s)
	}

	if t.After(now) {
		return time.Time{}, fmt.Errorf("time %q is in the future", s)
	}
	return t, nil
}
