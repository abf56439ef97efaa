package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "nftwatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"500ms", base.Add(500 * time.Millisecond)},
		{"every:10m", base.Add(10 * time.Minute)},
		{"02:30", base.Add(2*time.Hour + 30*time.Minute)},
		{"@every 1m", base.Add(time.Minute)},
		{"0 */10 * * * *", time.Date(2026, 1, 2, 3, 10, 0, 0, time.UTC)},
		{"cron:@hourly", time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sch, err := ParseSchedule(tt.in)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
			}
			if got := sch.Next(base); !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "soon", "-1s", "01:75", "cron:"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) accepted", bad)
		}
	}
}

func TestIntervalTicks(t *testing.T) {
	s := New(logx.Nop())
	var n atomic.Int32
	if err := s.AddInterval("tick", 20*time.Millisecond, 0, func(ctx context.Context) error {
		n.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	s.Start(context.Background())
	time.Sleep(250 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := n.Load(); got < 3 {
		t.Fatalf("runs = %d, want >= 3", got)
	}
	if s.Running() {
		t.Fatalf("Running after Stop")
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	s := New(logx.Nop())
	var active, peak atomic.Int32
	var finished atomic.Bool
	_ = s.AddInterval("slow", 10*time.Millisecond, 0, func(ctx context.Context) error {
		cur := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	s.Start(context.Background())
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if active.Load() != 0 {
		t.Fatalf("Stop returned with a run in flight")
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrency = %d, want 1", got)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Skips == 0 {
		t.Fatalf("snapshot = %+v, want skips > 0", snap)
	}
	if !finished.Load() {
		t.Fatalf("job never finished")
	}
}

func TestAddReplacesByName(t *testing.T) {
	s := New(logx.Nop())
	_ = s.AddInterval("a", time.Second, 0, func(context.Context) error { return nil })
	_ = s.AddInterval("a", 2*time.Second, 0, func(context.Context) error { return nil })
	if got := len(s.Snapshot()); got != 1 {
		t.Fatalf("tasks = %d, want 1", got)
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove semantics broken")
	}
}

func TestTimeoutBoundsRun(t *testing.T) {
	s := New(logx.Nop())
	done := make(chan error, 1)
	_ = s.AddInterval("bounded", 10*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case done <- ctx.Err():
		default:
		}
		return ctx.Err()
	})
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout never fired")
	}
}
