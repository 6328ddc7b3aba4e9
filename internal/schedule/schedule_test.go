package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfetch/fetchd/internal/config"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func mustRule(t *testing.T, name, pattern string) *config.Rule {
	t.Helper()
	schedule, err := cronParser.Parse(pattern)
	require.NoError(t, err)
	return &config.Rule{Name: name, SanitizedName: name, CronPattern: pattern, CronSchedule: schedule}
}

func TestNewScheduleIsEmpty(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Peek()
	assert.False(t, ok)
	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestAddReturnsAnEpochStrictlyAfterBase(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)
	rule := mustRule(t, "ls8-bpf", "*/5 * * * *")

	epoch := s.Add(rule, base)
	assert.Greater(t, epoch, base.Unix())
}

func TestPeekReturnsEarliestFiringEntryFirst(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)

	slow := mustRule(t, "slow", "0 0 * * *")  // fires once a day
	fast := mustRule(t, "fast", "*/1 * * * *") // fires every minute

	s.Add(slow, base)
	s.Add(fast, base)

	entry, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, "fast", entry.Rule.Name)
}

func TestPopDrainsEveryAddedEntryExactlyOnce(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)

	s.Add(mustRule(t, "a", "*/1 * * * *"), base)
	s.Add(mustRule(t, "b", "*/2 * * * *"), base)
	s.Add(mustRule(t, "c", "*/3 * * * *"), base)

	var order []string
	for s.Len() > 0 {
		entry, ok := s.Pop()
		require.True(t, ok)
		order = append(order, entry.Rule.Name)
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, order)
}

func TestPopIsMonotonicallyNondecreasingInFireEpoch(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)
	patterns := []string{"*/1 * * * *", "*/3 * * * *", "0 * * * *", "*/7 * * * *", "0 0 * * *"}
	for i, p := range patterns {
		name := fmt.Sprintf("rule-%d", i)
		s.Add(mustRule(t, name, p), base.Add(time.Duration(i)*time.Second))
	}

	var last int64
	for s.Len() > 0 {
		entry, ok := s.Pop()
		require.True(t, ok)
		assert.GreaterOrEqual(t, entry.NextFireEpoch, last)
		last = entry.NextFireEpoch
	}
}

func TestEqualFireTimesBreakTiesByInsertionOrder(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)
	// Same cron pattern from the same base: identical next-fire epoch.
	first := mustRule(t, "first", "*/5 * * * *")
	second := mustRule(t, "second", "*/5 * * * *")

	s.Add(first, base)
	s.Add(second, base)

	entry, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", entry.Rule.Name)

	entry, ok = s.Pop()
	require.True(t, ok)
	assert.Equal(t, "second", entry.Rule.Name)
}

func TestLenTracksAddAndPop(t *testing.T) {
	s := New()
	base := time.Date(2013, 8, 6, 4, 30, 0, 0, time.UTC)
	s.Add(mustRule(t, "a", "*/5 * * * *"), base)
	assert.Equal(t, 1, s.Len())
	s.Add(mustRule(t, "b", "*/5 * * * *"), base)
	assert.Equal(t, 2, s.Len())
	_, _ = s.Pop()
	assert.Equal(t, 1, s.Len())
}
