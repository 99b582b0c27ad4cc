package history

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 10, 18, hour, min, 0, 0, time.UTC)
}

func TestStore_Append(t *testing.T) {
	s := NewStore()

	t.Run("creates group on first append", func(t *testing.T) {
		if err := s.Append("G1", Entry{Sender: "Ana", Body: "oi", Timestamp: at(9, 0)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Len("G1") != 1 {
			t.Errorf("expected 1 entry, got %d", s.Len("G1"))
		}
	})

	t.Run("duplicates are kept", func(t *testing.T) {
		e := Entry{Sender: "Ana", Body: "oi", Timestamp: at(9, 1)}
		_ = s.Append("G1", e)
		_ = s.Append("G1", e)
		if s.Len("G1") != 3 {
			t.Errorf("expected 3 entries, got %d", s.Len("G1"))
		}
	})

	t.Run("empty group rejected", func(t *testing.T) {
		if err := s.Append("", Entry{Body: "x"}); !errors.Is(err, ErrEmptyGroupID) {
			t.Errorf("expected ErrEmptyGroupID, got %v", err)
		}
		if err := s.Record(18, "", Entry{Body: "x"}); !errors.Is(err, ErrEmptyGroupID) {
			t.Errorf("expected ErrEmptyGroupID from Record, got %v", err)
		}
	})
}

func TestStore_ResetIfNewDay(t *testing.T) {
	s := NewStore()

	if !s.ResetIfNewDay(18) {
		t.Error("first observation should count as a new day")
	}
	_ = s.Append("G1", Entry{Body: "a", Timestamp: at(9, 0)})
	_ = s.Append("G2", Entry{Body: "b", Timestamp: at(9, 0)})

	t.Run("same day keeps everything", func(t *testing.T) {
		if s.ResetIfNewDay(18) {
			t.Error("unexpected reset on same day")
		}
		if s.Len("G1") != 1 || s.Len("G2") != 1 {
			t.Error("entries lost on same day")
		}
	})

	t.Run("day change clears all groups", func(t *testing.T) {
		if !s.ResetIfNewDay(19) {
			t.Error("expected reset")
		}
		if s.Len("G1") != 0 || s.Len("G2") != 0 {
			t.Errorf("expected all groups cleared, got G1=%d G2=%d", s.Len("G1"), s.Len("G2"))
		}
		if s.CurrentDay() != 19 {
			t.Errorf("expected current day 19, got %d", s.CurrentDay())
		}
	})
}

func TestStore_Record(t *testing.T) {
	s := NewStore()
	_ = s.Record(18, "G1", Entry{Body: "a"})
	_ = s.Record(18, "G2", Entry{Body: "b"})
	_ = s.Record(19, "G1", Entry{Body: "c"})

	if s.Len("G1") != 1 {
		t.Errorf("expected only the new-day entry in G1, got %d", s.Len("G1"))
	}
	if s.Len("G2") != 0 {
		t.Errorf("expected G2 cleared by rollover, got %d", s.Len("G2"))
	}
}

func TestStore_EntriesForDay(t *testing.T) {
	s := NewStore()
	start, end := DayWindow(at(10, 5))

	// Arrival order deliberately differs from timestamp order.
	_ = s.Append("G1", Entry{Body: "late", Timestamp: at(11, 0)})
	_ = s.Append("G1", Entry{Body: "early", Timestamp: at(9, 0)})
	_ = s.Append("G1", Entry{Body: "yesterday", Timestamp: start.Add(-time.Second)})
	_ = s.Append("G1", Entry{Body: "midnight", Timestamp: start})
	_ = s.Append("G1", Entry{Body: "tomorrow", Timestamp: end})

	got := s.EntriesForDay("G1", start, end)
	want := []string{"late", "early", "midnight"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i, e := range got {
		if e.Body != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, e.Body, want[i])
		}
	}

	t.Run("unknown group is empty", func(t *testing.T) {
		if got := s.EntriesForDay("nope", start, end); len(got) != 0 {
			t.Errorf("expected empty result, got %+v", got)
		}
	})

	t.Run("result is a copy", func(t *testing.T) {
		got := s.EntriesForDay("G1", start, end)
		got[0].Body = "mutated"
		if s.EntriesForDay("G1", start, end)[0].Body != "late" {
			t.Error("caller mutation leaked into the store")
		}
	})
}

func TestStore_ConcurrentRecord(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Record(18, fmt.Sprintf("G%d", i%5), Entry{Body: "x"})
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range 5 {
		total += s.Len(fmt.Sprintf("G%d", i))
	}
	if total != 50 {
		t.Errorf("expected 50 entries, got %d", total)
	}
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	start, end := DayWindow(time.Date(2026, 10, 18, 23, 59, 0, 0, loc))

	if !start.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected end %v", end)
	}
}
