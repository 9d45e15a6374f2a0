package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"span": span,
	"percent": func(f float64) string {
		return fmt.Sprintf("%.1f%%", f*100)
	},
	"phaseClass": func(p status.Phase) string {
		switch p {
		case status.PhaseRunning:
			return "running"
		case status.PhaseDone:
			return "done"
		case status.PhaseFailed:
			return "failed"
		}
		return "idle"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{if eq .Phase "RUNNING"}}<meta http-equiv="refresh" content="2">{{end}}
<title>loopbench</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: #06c; font-weight: bold; }
.done { color: green; font-weight: bold; }
.failed { color: red; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
progress { width: 100%; }
</style>
</head>
<body>
<h1>loopbench <span class="{{phaseClass .Phase}}">{{.Phase}}</span></h1>

{{with .Live}}
<h2>Run {{.RunID}}</h2>
<progress value="{{.Progress}}" max="1"></progress>
<table>
<tr><th>Mode</th><td>{{.Mode}}</td></tr>
<tr><th>Strategy</th><td>{{.Strategy}}</td></tr>
<tr><th>Elapsed</th><td>{{span .Elapsed}} / {{span .Duration}}</td></tr>
<tr><th>Cycles recorded</th><td>{{.Cycles}}</td></tr>
<tr><th>Anomalies</th><td>{{.Diagnostics.Anomalies}}</td></tr>
<tr><th>Emergencies</th><td>{{.Diagnostics.Emergencies}}</td></tr>
<tr><th>Transmit misses</th><td>{{.Diagnostics.TransmitMisses}}</td></tr>
<tr><th>Feedback misses</th><td>{{.Diagnostics.FeedbackMisses}}</td></tr>
<tr><th>Dropped readings</th><td>{{.Diagnostics.DroppedReadings}}</td></tr>
<tr><th>Feedback sent / observed</th><td>{{.Diagnostics.FeedbackSent}} / {{.Diagnostics.FeedbackObserved}}</td></tr>
</table>
{{end}}

<h2>Completed runs</h2>
{{if .Completed}}
<table>
<tr><th>Run</th><th>Mode</th><th>Strategy</th><th>Cycles</th><th>Compliance</th><th>Emergencies</th></tr>
{{range .Completed}}<tr><td>{{.ID}}</td><td>{{.Mode}}</td><td>{{.Strategy}}</td><td>{{.Cycles}}</td><td{{if .Err}} class="failed" title="{{.Err}}"{{end}}>{{percent .Compliance}}</td><td>{{.Emergencies}}</td></tr>
{{end}}</table>
{{else}}
<p class="idle">none yet</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
</table>

<h2>Experiment</h2>
<table>
<tr><th>Name</th><td>{{.Config.Name}}</td></tr>
<tr><th>Modes</th><td>{{range $i, $m := .Config.Modes}}{{if $i}}, {{end}}{{$m}}{{end}}</td></tr>
<tr><th>Strategy</th><td>{{.Config.Strategy}}</td></tr>
<tr><th>Duration</th><td>{{.Config.Duration}}</td></tr>
<tr><th>Sensor period</th><td>{{.Config.SensorPeriod}}</td></tr>
<tr><th>Uptime</th><td>{{span .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/live.json">live JSON</a></p>
</body>
</html>
`

// span formats d as hours, minutes and seconds, with tenths below a minute.
func span(d time.Duration) string {
	if d < time.Minute {
		return d.Round(100 * time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h, d := d/time.Hour, d%time.Hour
	m, d := d/time.Minute, d%time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", int64(h), int64(m), int64(d/time.Second))
	}
	return fmt.Sprintf("%dm%02ds", int64(m), int64(d/time.Second))
}

func renderHTML(w io.Writer, snap status.Snapshot, live *engine.Snapshot) {
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   *engine.Snapshot
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}
