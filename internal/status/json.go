package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Phase         string          `json:"phase"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Active        *ActiveJSON     `json:"active,omitempty"`
	Completed     []CompletedJSON `json:"completed"`
	Config        ConfigJSON      `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ActiveJSON is the JSON representation of the active run.
type ActiveJSON struct {
	ID             string `json:"id"`
	Mode           string `json:"mode"`
	Strategy       string `json:"strategy"`
	StartTime      string `json:"start_time"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// CompletedJSON is the JSON representation of a finished run.
type CompletedJSON struct {
	ID          string  `json:"id"`
	Mode        string  `json:"mode"`
	Strategy    string  `json:"strategy"`
	Cycles      int     `json:"cycles"`
	Compliance  float64 `json:"compliance"`
	Anomalies   uint64  `json:"anomalies"`
	Emergencies uint64  `json:"emergencies"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	Error       string  `json:"error,omitempty"`
}

// ConfigJSON is the JSON representation of harness config.
type ConfigJSON struct {
	Name           string   `json:"name"`
	Modes          []string `json:"modes"`
	Strategy       string   `json:"strategy"`
	DurationMs     int64    `json:"duration_ms"`
	SensorPeriodUs int64    `json:"sensor_period_us"`
	Broker         string   `json:"broker,omitempty"`
	HTTPAddr       string   `json:"http_addr,omitempty"`
	DBPath         string   `json:"db_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = string(PhaseIdle)
	}

	inner := StatusInner{
		Phase:         phase,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Completed:     make([]CompletedJSON, 0, len(snap.Completed)),
		Config: ConfigJSON{
			Name:           snap.Config.Name,
			Modes:          snap.Config.Modes,
			Strategy:       snap.Config.Strategy,
			DurationMs:     snap.Config.Duration.Milliseconds(),
			SensorPeriodUs: snap.Config.SensorPeriod.Microseconds(),
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
			DBPath:         snap.Config.DBPath,
		},
	}
	if a := snap.Active; a != nil {
		inner.Active = &ActiveJSON{
			ID:             a.ID,
			Mode:           a.Mode,
			Strategy:       a.Strategy,
			StartTime:      a.Started.UTC().Format(time.RFC3339),
			ElapsedSeconds: int64(snap.Now.Sub(a.Started).Truncate(time.Second).Seconds()),
		}
	}
	for _, c := range snap.Completed {
		inner.Completed = append(inner.Completed, CompletedJSON{
			ID:          c.ID,
			Mode:        c.Mode,
			Strategy:    c.Strategy,
			Cycles:      c.Cycles,
			Compliance:  c.Compliance,
			Anomalies:   c.Anomalies,
			Emergencies: c.Emergencies,
			ElapsedMs:   c.Elapsed.Milliseconds(),
			Error:       c.Err,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
