package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingSweeper struct {
	mu     sync.Mutex
	calls  int
	remove int
	err    error
}

func (s *countingSweeper) SweepOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.remove, s.err
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil sweeper")
	}
	if _, err := New(&countingSweeper{}, Config{Interval: -time.Second}); err == nil {
		t.Error("expected error for negative interval")
	}
	j, err := New(&countingSweeper{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer j.Stop()
	if j.Interval() != DefaultInterval {
		t.Errorf("interval = %v, want %v", j.Interval(), DefaultInterval)
	}
}

func TestJanitor_SweepsAtStartAndOnTick(t *testing.T) {
	sweeper := &countingSweeper{remove: 2}
	j, err := New(sweeper, Config{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if err := j.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sweeper.count() < 1 {
		t.Errorf("initial sweep not run synchronously")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()

	if sweeper.count() < 3 {
		t.Fatalf("only %d sweeps ran", sweeper.count())
	}
	lastRun, removed := j.Stats()
	if lastRun.IsZero() || removed != 2*sweeper.count() {
		t.Errorf("stats = %v, %d", lastRun, removed)
	}

	// No sweeps after Stop.
	n := sweeper.count()
	time.Sleep(30 * time.Millisecond)
	if sweeper.count() != n {
		t.Errorf("sweeps continued after Stop")
	}
	j.Stop()
}

func TestJanitor_ContextCancel(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("disk gone")}
	j, err := New(sweeper, Config{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()
	j.Stop()

	if sweeper.count() != 1 {
		t.Errorf("calls = %d, want 1", sweeper.count())
	}
}

func TestJanitor_UpdateInterval(t *testing.T) {
	j, err := New(&countingSweeper{}, Config{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer j.Stop()

	j.UpdateInterval(time.Minute)
	if j.Interval() != time.Minute {
		t.Errorf("interval = %v, want 1m", j.Interval())
	}
	j.UpdateInterval(0)
	if j.Interval() != time.Minute {
		t.Errorf("non-positive interval should be ignored")
	}
}
