package fetch

import (
	"fmt"
	"strings"
	"time"
)

// DateRange yields the inclusive sequence of dates from fromDaysFromNow to
// toDaysFromNow, relative to now, mirroring
// original_source/fetch/_core.py _date_range (doctest: len(list(_date_range(-1,1))) == 3).
func DateRange(now time.Time, fromDaysFromNow, toDaysFromNow int) []time.Time {
	var dates []time.Time
	for d := fromDaysFromNow; d <= toDaysFromNow; d++ {
		dates = append(dates, now.AddDate(0, 0, d))
	}
	return dates
}

// DateRangeOverride is one field to override on the wrapped source for each
// date in the range, with a template value following DateFilenameTransform's
// substitution keys ({year}, {month}, {day}, {julday}, {date}).
type DateRangeOverride struct {
	Field   string
	Pattern string
}

// DateSourceFactory builds a fresh Source for one date in the range, with
// overrides already applied. DateRangeSource calls this once per date rather
// than mutating a single shared Source instance: see DESIGN.md's resolution
// of spec.md's Open Question on DateRangeSource field mutation — the
// original Python implementation mutates and reuses `using` via setattr
// across iterations; this Go port instead asks the caller for an
// independent, already-configured Source per date, which sidesteps shared
// mutable state entirely.
type DateSourceFactory func(date time.Time, overrides map[string]string) (Source, error)

// DateRangeSource re-triggers a wrapped source once per date in
// [Now+StartDay, Now+EndDay], substituting date-derived overrides into it
// each time, mirroring _core.py DateRangeSource.
type DateRangeSource struct {
	Build     DateSourceFactory
	Overrides []DateRangeOverride
	StartDay  int
	EndDay    int
	// Now overrides "today" for testability.
	Now time.Time
}

func (s *DateRangeSource) Trigger(reporter Reporter) error {
	now := s.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	for _, date := range DateRange(now, s.StartDay, s.EndDay) {
		params := map[string]string{
			"year":   fmt.Sprintf("%04d", date.Year()),
			"month":  fmt.Sprintf("%02d", date.Month()),
			"day":    fmt.Sprintf("%02d", date.Day()),
			"julday": fmt.Sprintf("%03d", date.YearDay()),
			"date":   date.Format("2006-01-02"),
		}
		replacer := strings.NewReplacer(
			"{year}", params["year"], "{month}", params["month"],
			"{day}", params["day"], "{julday}", params["julday"],
			"{date}", params["date"],
		)
		overrides := make(map[string]string, len(s.Overrides))
		for _, o := range s.Overrides {
			overrides[o.Field] = replacer.Replace(o.Pattern)
		}
		src, err := s.Build(date, overrides)
		if err != nil {
			return fmt.Errorf("build date-range source for %s: %w", params["date"], err)
		}
		if err := src.Trigger(reporter); err != nil {
			return err
		}
	}
	return nil
}
