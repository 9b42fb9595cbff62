package housekeeping

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"kolpulse/pkg/logx"
)

func TestRunAllContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	var ran []string
	s := New(Config{}, logx.Nop(),
		Job{Name: "a", Run: func(context.Context, time.Time) (int64, error) {
			ran = append(ran, "a")
			return 0, errors.New("boom")
		}},
		Job{Name: "b", Run: func(context.Context, time.Time) (int64, error) {
			ran = append(ran, "b")
			return 3, nil
		}},
	)

	runs := s.RunAll(context.Background())
	if len(runs) != 2 || len(ran) != 2 {
		t.Fatalf("runs = %+v, ran = %v; want both jobs", runs, ran)
	}
	if runs[0].Error != "boom" {
		t.Fatalf("runs[0].Error = %q, want boom", runs[0].Error)
	}
	if runs[1].Affected != 3 {
		t.Fatalf("runs[1].Affected = %d, want 3", runs[1].Affected)
	}
	if h := s.History(); len(h) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(h))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), Job{Name: "noop", Run: func(context.Context, time.Time) (int64, error) { return 0, nil }})
	for i := 0; i < historySize+10; i++ {
		s.RunAll(context.Background())
	}
	if h := s.History(); len(h) != historySize {
		t.Fatalf("len(History()) = %d, want %d", len(h), historySize)
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"", "@every 10m", "*/5 * * * *", "@hourly"} {
		if err := ParseSchedule(spec); err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", spec, err)
		}
	}
	for _, spec := range []string{"every ten minutes", "* * *"} {
		if err := ParseSchedule(spec); err == nil {
			t.Fatalf("ParseSchedule(%q) error = nil, want error", spec)
		}
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	var n atomic.Int32
	s := New(Config{Schedule: "@every 1s"}, logx.Nop(), Job{Name: "tick", Run: func(context.Context, time.Time) (int64, error) {
		n.Add(1)
		return 0, nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n.Load() == 0 {
		t.Fatalf("job never ran")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := New(Config{Schedule: "nonsense"}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start error = nil, want error")
	}
}
