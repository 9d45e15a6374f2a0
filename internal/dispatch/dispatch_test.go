package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

func reading(id uint64) logic.FilteredReading {
	return logic.FilteredReading{SensorReading: logic.SensorReading{ID: id}}
}

func TestBroadcastReachesEveryActuator(t *testing.T) {
	f := New(4, 4, 3)
	ctx := context.Background()

	if got := f.Broadcast(ctx, coop.Dedicated{}, reading(7), time.Millisecond); got != 3 {
		t.Fatalf("delivered: got %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		r, err := f.Receive(ctx, coop.Dedicated{}, i, time.Millisecond)
		if err != nil {
			t.Fatalf("actuator %d: %v", i, err)
		}
		if r.ID != 7 {
			t.Errorf("actuator %d: got reading %d, want 7", i, r.ID)
		}
	}
}

func TestBroadcastTimesOutOnFullQueue(t *testing.T) {
	f := New(1, 1, 2)
	ctx := context.Background()
	f.Broadcast(ctx, nil, reading(1), time.Millisecond)

	// Drain actuator 0 only; actuator 1 stays full.
	if _, err := f.Receive(ctx, nil, 0, time.Millisecond); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	got := f.Broadcast(ctx, nil, reading(2), 2*time.Millisecond)
	if got != 1 {
		t.Errorf("delivered: got %d, want 1", got)
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Error("broadcast returned before the timeout")
	}
}

func TestReceiveTimeout(t *testing.T) {
	f := New(1, 1, 1)
	_, err := f.Receive(context.Background(), coop.Dedicated{}, 0, time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestReceiveCancelled(t *testing.T) {
	f := New(1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Receive(ctx, nil, 0, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestFeedbackDrainAndRemaining(t *testing.T) {
	f := New(1, 8, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if !f.SendFeedback(ctx, nil, logic.ActuatorFeedback{ReadingID: uint64(i)}, time.Millisecond) {
			t.Fatalf("send %d failed", i)
		}
	}

	batch, over := f.Drain(2, time.Second)
	if len(batch) != 2 || over {
		t.Fatalf("drain: got %d items (over=%v), want 2", len(batch), over)
	}
	if batch[0].ReadingID != 0 || batch[1].ReadingID != 1 {
		t.Errorf("drain order: got %d, %d", batch[0].ReadingID, batch[1].ReadingID)
	}

	f.CloseFeedback()
	f.CloseFeedback()
	rest := f.Remaining(coop.Dedicated{})
	if len(rest) != 3 {
		t.Errorf("remaining: got %d, want 3", len(rest))
	}
}

func TestSendFeedbackFullQueue(t *testing.T) {
	f := New(1, 1, 1)
	ctx := context.Background()
	if !f.SendFeedback(ctx, nil, logic.ActuatorFeedback{}, time.Millisecond) {
		t.Fatal("first send failed")
	}
	if f.SendFeedback(ctx, nil, logic.ActuatorFeedback{}, time.Millisecond) {
		t.Error("send to full queue succeeded")
	}
}

func TestCooperativeReceiveParks(t *testing.T) {
	pool := coop.NewPool(1)
	task, err := pool.Enter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer task.Exit()

	f := New(1, 1, 1)
	go func() {
		// Needs the only token, so it runs only while the receiver is parked.
		sender, err := pool.Enter(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		defer sender.Exit()
		f.Broadcast(context.Background(), sender, reading(3), time.Second)
	}()

	r, err := f.Receive(context.Background(), task, 0, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != 3 {
		t.Errorf("got reading %d, want 3", r.ID)
	}
}

func TestBacklog(t *testing.T) {
	f := New(4, 4, 2)
	f.Broadcast(context.Background(), nil, reading(1), time.Millisecond)
	f.SendFeedback(context.Background(), nil, logic.ActuatorFeedback{}, time.Millisecond)
	readings, feedback := f.Backlog()
	if len(readings) != 2 || readings[0] != 1 || readings[1] != 1 || feedback != 1 {
		t.Errorf("backlog: got %v/%d", readings, feedback)
	}
}
