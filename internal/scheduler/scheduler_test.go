package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", within)
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}

func TestSchedulerFiresJob(t *testing.T) {
	sched := New()
	var fires atomic.Int32
	if err := sched.Add("every-second", "* * * * * *", func() { fires.Add(1) }); err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerEvery(t *testing.T) {
	sched := New()
	var fires atomic.Int32
	if err := sched.Every("poll", 200*time.Millisecond, func() { fires.Add(1) }); err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerInvalidSpec(t *testing.T) {
	sched := New()
	if err := sched.Add("bad", "not a schedule", func() {}); err == nil {
		t.Fatal("expected parse error")
	}
	if n := len(sched.Jobs()); n != 0 {
		t.Errorf("expected no jobs, got %d", n)
	}
}

func TestSchedulerReplaceAndRemove(t *testing.T) {
	sched := New()
	var first, second atomic.Int32
	if err := sched.Add("job", "* * * * * *", func() { first.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := sched.Add("job", "* * * * * *", func() { second.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if got := sched.Jobs(); len(got) != 1 || got[0] != "job" {
		t.Fatalf("Jobs() = %v, want [job]", got)
	}

	sched.Start()
	defer sched.Stop()
	waitFor(t, 2500*time.Millisecond, func() bool { return second.Load() > 0 })
	if n := first.Load(); n != 0 {
		t.Errorf("replaced job fired %d times", n)
	}

	sched.Remove("job")
	time.Sleep(100 * time.Millisecond)
	before := second.Load()
	time.Sleep(1500 * time.Millisecond)
	if n := second.Load(); n != before {
		t.Errorf("removed job kept firing: %d -> %d", before, n)
	}
}

func TestSchedulerStopWaitsForRunningJob(t *testing.T) {
	sched := New()
	started := make(chan struct{}, 1)
	var finished atomic.Bool
	if err := sched.Add("slow", "* * * * * *", func() {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	sched.Start()

	select {
	case <-started:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job never started")
	}
	sched.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the running job finished")
	}
}
