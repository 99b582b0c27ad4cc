package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := []string{"@daily", "@every 1h", "0 22 * * *", "30 18 * * 1-5"}
	for _, spec := range valid {
		if err := Validate(spec); err != nil {
			t.Errorf("%q should be valid: %v", spec, err)
		}
	}
	invalid := []string{"", "every day", "61 * * * *", "* * * * * *"}
	for _, spec := range invalid {
		if err := Validate(spec); err == nil {
			t.Errorf("%q should be invalid", spec)
		}
	}
}

func TestScheduler_Add(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("daily-summary", "0 22 * * *", noop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Add("daily-summary", "@daily", noop); err == nil {
		t.Error("expected duplicate name error")
	}
	if err := s.Add("bad", "not a cron", noop); err == nil {
		t.Error("expected invalid schedule error")
	}
	if err := s.Add("", "@daily", noop); err == nil {
		t.Error("expected missing name error")
	}

	s.Start()
	defer s.Stop()

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "daily-summary" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Next.IsZero() {
		t.Error("expected next run to be computed after Start")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	var calls atomic.Int32

	_ = s.Add("ok", "@daily", func(ctx context.Context) error {
		calls.Add(1)
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry a deadline")
		}
		return nil
	})
	_ = s.Add("fails", "@daily", func(context.Context) error { return errors.New("boom") })
	_ = s.Add("panics", "@daily", func(context.Context) error { panic("kaboom") })

	if err := s.RunNow("ok"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}

	t.Run("spin guard skips immediate rerun", func(t *testing.T) {
		_ = s.RunNow("ok")
		if calls.Load() != 1 {
			t.Errorf("expected rerun to be skipped, got %d calls", calls.Load())
		}
	})

	t.Run("errors are recorded", func(t *testing.T) {
		_ = s.RunNow("fails")
		_ = s.RunNow("panics")
		byName := map[string]Entry{}
		for _, e := range s.Entries() {
			byName[e.Name] = e
		}
		if byName["fails"].LastErr != "boom" {
			t.Errorf("unexpected last error %q", byName["fails"].LastErr)
		}
		if byName["panics"].LastErr != "panic: kaboom" {
			t.Errorf("unexpected panic error %q", byName["panics"].LastErr)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if err := s.RunNow("missing"); err == nil {
			t.Error("expected error")
		}
	})
}
