package fetch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRangeLength(t *testing.T) {
	now := time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC)
	assert.Len(t, DateRange(now, -1, 1), 3)
	assert.Len(t, DateRange(now, 0, 0), 1)
}

func TestDateRangeIsInclusiveAndOrdered(t *testing.T) {
	now := time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC)
	dates := DateRange(now, -1, 1)
	assert.Equal(t, "2013-08-05", dates[0].Format("2006-01-02"))
	assert.Equal(t, "2013-08-06", dates[1].Format("2006-01-02"))
	assert.Equal(t, "2013-08-07", dates[2].Format("2006-01-02"))
}

// stubSource records every trigger call it receives.
type stubSource struct {
	triggered []string
	err       error
}

func (s *stubSource) Trigger(reporter Reporter) error {
	s.triggered = append(s.triggered, "triggered")
	return s.err
}

func TestDateRangeSourceBuildsOneSourcePerDate(t *testing.T) {
	var built []map[string]string
	stub := &stubSource{}

	src := &DateRangeSource{
		Now:      time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC),
		StartDay: -1,
		EndDay:   1,
		Overrides: []DateRangeOverride{
			{Field: "date_pattern", Pattern: "{year}{month}{day}"},
		},
		Build: func(date time.Time, overrides map[string]string) (Source, error) {
			built = append(built, overrides)
			return stub, nil
		},
	}

	err := src.Trigger(NopReporter{})
	require.NoError(t, err)
	assert.Len(t, built, 3)
	assert.Equal(t, "20130805", built[0]["date_pattern"])
	assert.Equal(t, "20130806", built[1]["date_pattern"])
	assert.Equal(t, "20130807", built[2]["date_pattern"])
	assert.Len(t, stub.triggered, 3)
}

func TestDateRangeSourcePropagatesBuildError(t *testing.T) {
	boom := errors.New("boom")
	src := &DateRangeSource{
		Now: time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC),
		Build: func(date time.Time, overrides map[string]string) (Source, error) {
			return nil, boom
		},
	}

	err := src.Trigger(NopReporter{})
	assert.ErrorIs(t, err, boom)
}

func TestDateRangeSourceStopsOnTriggerError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	src := &DateRangeSource{
		Now:      time.Date(2013, 8, 6, 0, 0, 0, 0, time.UTC),
		StartDay: 0,
		EndDay:   2,
		Build: func(date time.Time, overrides map[string]string) (Source, error) {
			calls++
			return &stubSource{err: boom}, nil
		},
	}

	err := src.Trigger(NopReporter{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "must not build later dates once one fails")
}
