package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduleIsDriftFree(t *testing.T) {
	const period = 10 * time.Millisecond
	s := NewSchedule(epoch, period)

	for n := int64(0); n < 1000; n++ {
		got := s.Next()
		want := epoch.Add(time.Duration(n) * period)
		if !got.Equal(want) {
			t.Fatalf("wake %d: got %v, want %v", n, got, want)
		}
	}
	if s.Cycle() != 1000 {
		t.Errorf("Cycle: got %d, want 1000", s.Cycle())
	}
}

// A slow cycle must not push later wake times back.
func TestWaitOverrunDoesNotShiftSchedule(t *testing.T) {
	const period = 10 * time.Millisecond
	fc := NewFake(epoch)
	s := NewSchedule(fc.Now(), period)
	ctx := context.Background()

	wake := s.Next() // n=0, exactly now
	w, err := Wait(ctx, coop.Dedicated{}, fc, wake)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if w.Overrun || w.Late != 0 {
		t.Errorf("n=0: got %+v, want on time", w)
	}

	// Processing took 25ms, past wakes 1 and 2.
	fc.Advance(25 * time.Millisecond)

	wake = s.Next()
	w, _ = Wait(ctx, coop.Dedicated{}, fc, wake)
	if !w.Overrun || w.Late != 15*time.Millisecond {
		t.Errorf("n=1: got %+v, want overrun late 15ms", w)
	}

	wake = s.Next()
	w, _ = Wait(ctx, coop.Dedicated{}, fc, wake)
	if !w.Overrun || w.Late != 5*time.Millisecond {
		t.Errorf("n=2: got %+v, want overrun late 5ms", w)
	}

	wake = s.Next()
	if want := epoch.Add(30 * time.Millisecond); !wake.Equal(want) {
		t.Errorf("n=3: got %v, want %v", wake, want)
	}
}

func TestWaitSleepsUntilWake(t *testing.T) {
	fc := NewFake(epoch)
	wake := epoch.Add(5 * time.Millisecond)

	done := make(chan Wake, 1)
	go func() {
		w, err := Wait(context.Background(), coop.Dedicated{}, fc, wake)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- w
	}()

	for fc.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	fc.Advance(5 * time.Millisecond)

	select {
	case w := <-done:
		if w.Overrun || w.Late != 0 || !w.At.Equal(wake) {
			t.Errorf("got %+v, want on-time wake at %v", w, wake)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Advance")
	}
}

func TestWaitHonorsCancel(t *testing.T) {
	fc := NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Wait(ctx, coop.Dedicated{}, fc, epoch.Add(time.Hour))
		done <- err
	}()
	for fc.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestWaitParksCooperativeTask(t *testing.T) {
	pool := coop.NewPool(1)
	task, err := pool.Enter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer task.Exit()

	_, err = Wait(context.Background(), task, Real{}, time.Now().Add(2*time.Millisecond))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := pool.Stats().Parks; got != 1 {
		t.Errorf("Parks: got %d, want 1", got)
	}
}

func TestRealWaitIsNotEarly(t *testing.T) {
	s := NewSchedule(time.Now(), 2*time.Millisecond)
	s.Next()
	wake := s.Next()
	w, err := Wait(context.Background(), nil, Real{}, wake)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if w.At.Before(wake) {
		t.Errorf("woke at %v, before %v", w.At, wake)
	}
}
