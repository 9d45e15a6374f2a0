package mqtt

import (
	"sync"

	"github.com/sweeney/loopbench/internal/report"
)

// FakePublisher records published telemetry for test assertions.
// Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	// RunEvents contains all run events that were published.
	RunEvents []RunEvent

	// Summaries contains all run summaries that were published.
	Summaries []report.Summary

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// Payloads contains every JSON payload in publish order.
	Payloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishRun records the run event.
func (f *FakePublisher) PublishRun(event RunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatRunPayload(event)
	if err != nil {
		return err
	}
	f.RunEvents = append(f.RunEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSummary records the summary.
func (f *FakePublisher) PublishSummary(s report.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSummaryPayload(s)
	if err != nil {
		return err
	}
	f.Summaries = append(f.Summaries, s)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Events returns the recorded run event types in order.
func (f *FakePublisher) Events() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventType, len(f.RunEvents))
	for i, e := range f.RunEvents {
		out[i] = e.Type
	}
	return out
}

// Reset clears recorded telemetry.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RunEvents = nil
	f.Summaries = nil
	f.SystemEvents = nil
	f.Payloads = nil
	f.Closed = false
	f.PublishError = nil
}
