package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.calls.Add(1)
	r.started <- struct{}{}
	<-r.release
	return r.err
}

func TestRunNowIsSingleFlight(t *testing.T) {
	r := newBlockingRunner()
	s := New("", r, nil)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	<-r.started

	if !s.Snapshot().Running {
		t.Fatal("snapshot should report running")
	}
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrIngestAlreadyRunning) {
		t.Fatalf("concurrent RunNow err = %v", err)
	}
	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("calls = %d", r.calls.Load())
	}

	st := s.Snapshot()
	if st.Running || st.LastSource != "manual" || st.LastCompletedAt.IsZero() {
		t.Fatalf("state = %+v", st)
	}
}

func TestRunNowCooldown(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	s := New("", r, nil)

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-r.started
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrIngestCooldown) {
		t.Fatalf("err = %v, want ErrIngestCooldown", err)
	}

	s.minGap = 0
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("run after cooldown: %v", err)
	}
	<-r.started
}

func TestRunErrorIsRecorded(t *testing.T) {
	r := newBlockingRunner()
	r.err = errors.New("fetch failed")
	close(r.release)
	s := New("", r, nil)

	if err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	<-r.started
	if got := s.Snapshot().LastError; got != "fetch failed" {
		t.Fatalf("LastError = %q", got)
	}
}

func TestStartReportsNextRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New("0 * * * *", newBlockingRunner(), nil)
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	st := s.Snapshot()
	if st.Schedule != "0 * * * *" || st.NextRunAt == nil {
		t.Fatalf("state = %+v", st)
	}
	if until := time.Until(*st.NextRunAt); until <= 0 || until > time.Hour {
		t.Fatalf("next run in %s", until)
	}
}

func TestStartWithoutScheduleIsDisabled(t *testing.T) {
	s := New("", newBlockingRunner(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().NextRunAt != nil {
		t.Fatal("no next run expected")
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"", "*/30 * * * *", "0 6 * * 1-5", "@hourly"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Errorf("ValidateSchedule(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"every day", "61 * * * *", "* * * *"} {
		if err := ValidateSchedule(bad); err == nil {
			t.Errorf("ValidateSchedule(%q) should fail", bad)
		}
	}
}
