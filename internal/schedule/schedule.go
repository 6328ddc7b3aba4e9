// Package schedule implements the priority queue of (next-fire-time, rule)
// entries the supervisor peeks and pops from, mirroring
// original_source/fetch/auto.py Schedule.
package schedule

import (
	"container/heap"
	"time"

	"github.com/oceanfetch/fetchd/internal/config"
)

// Entry pairs a rule with the epoch second it next fires at, mirroring
// auto.py's (next_run, rule) heap tuples.
type Entry struct {
	Rule          *config.Rule
	NextFireEpoch int64

	index int // entryHeap bookkeeping
	seq   int // stable tie-break by insertion order
}

// entryHeap is the container/heap.Interface implementation backing
// Schedule, kept unexported so Schedule's own Peek/Pop can carry the
// richer (value, ok) signature spec.md describes instead of heap's raw
// interface{} shape.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].NextFireEpoch != h[j].NextFireEpoch {
		return h[i].NextFireEpoch < h[j].NextFireEpoch
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	entry := x.(*Entry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// Schedule is a min-heap on (NextFireEpoch, seq), guaranteeing at most one
// live entry per rule at a time (the caller must Pop before re-adding the
// same rule), mirroring spec.md §3's ScheduleEntry invariant.
type Schedule struct {
	items entryHeap
	seq   int
}

// New returns an empty Schedule; zero rules is a valid, steady state.
func New() *Schedule {
	return &Schedule{}
}

// Len reports how many rules currently have a pending fire.
func (s *Schedule) Len() int { return s.items.Len() }

// Add computes rule's next fire time after base via its cron schedule and
// inserts it, mirroring auto.py Schedule.add_item. The returned epoch is
// strictly greater than base.Unix() (cron.Schedule.Next always returns a
// time strictly after its argument).
func (s *Schedule) Add(rule *config.Rule, base time.Time) int64 {
	next := rule.CronSchedule.Next(base)
	entry := &Entry{Rule: rule, NextFireEpoch: next.Unix(), seq: s.seq}
	s.seq++
	heap.Push(&s.items, entry)
	return entry.NextFireEpoch
}

// Peek returns the earliest-firing entry without removing it, and false if
// the schedule is empty.
func (s *Schedule) Peek() (*Entry, bool) {
	if s.items.Len() == 0 {
		return nil, false
	}
	return s.items[0], true
}

// Pop removes and returns the earliest-firing entry.
func (s *Schedule) Pop() (*Entry, bool) {
	if s.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&s.items).(*Entry), true
}
