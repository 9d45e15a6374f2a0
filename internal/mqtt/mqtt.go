// Package mqtt publishes run telemetry over MQTT with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/loopbench/internal/report"
)

// TopicRuns carries run lifecycle events.
const TopicRuns = "loopbench/runs"

// TopicSummary carries one report summary per finished run.
const TopicSummary = "loopbench/summary"

// TopicSystem carries harness lifecycle events. Retained.
const TopicSystem = "loopbench/system"

// Publisher publishes harness telemetry.
type Publisher interface {
	// PublishRun sends a run lifecycle event.
	// A failed publish must never fail the run it describes.
	PublishRun(event RunEvent) error

	// PublishSummary sends the report of a finished run.
	PublishSummary(s report.Summary) error

	// PublishSystem sends a harness lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType is the kind of a run lifecycle event.
type EventType string

const (
	EventStarted  EventType = "STARTED"
	EventFinished EventType = "FINISHED"
	EventFailed   EventType = "FAILED"
)

// RunEvent is one transition of a run.
type RunEvent struct {
	Timestamp time.Time
	Type      EventType
	RunID     string
	Name      string
	Mode      string
	Strategy  string
	Err       error // FAILED only
}

// SystemEvent is a harness lifecycle event (ONLINE, OFFLINE, SHUTDOWN).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // e.g. "SIGINT" (shutdown only)
	// RawPayload is a pre-formatted body, e.g. a full status snapshot.
	// When set, FormatSystemPayload returns it unchanged.
	RawPayload []byte
	Retained   bool
}

// RunPayload is the JSON body of a run event.
type RunPayload struct {
	Run RunPayloadInner `json:"run"`
}

// RunPayloadInner contains the run event details.
type RunPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Mode      string `json:"mode"`
	Strategy  string `json:"strategy"`
	Error     string `json:"error,omitempty"`
}

// FormatRunPayload creates the JSON payload for a run event.
func FormatRunPayload(event RunEvent) ([]byte, error) {
	p := RunPayload{
		Run: RunPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			ID:        event.RunID,
			Name:      event.Name,
			Mode:      event.Mode,
			Strategy:  event.Strategy,
		},
	}
	if event.Err != nil {
		p.Run.Error = event.Err.Error()
	}
	return json.Marshal(p)
}

// SummaryPayload is the JSON body of a run summary.
type SummaryPayload struct {
	Summary report.Summary `json:"summary"`
}

// FormatSummaryPayload creates the JSON payload for a run summary.
func FormatSummaryPayload(s report.Summary) ([]byte, error) {
	return json.Marshal(SummaryPayload{Summary: s})
}

// SystemPayload is the JSON body of a system event.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
