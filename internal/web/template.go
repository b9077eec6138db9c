package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/touch-power/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"mode":  status.ModeName,
	"edges": status.EdgeKeys,
	"slots": func(s uint16) string { return fmt.Sprintf("%03x", s) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Touch Power</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.alr { color: orange; }
.wot { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Touch Power</h1>

<h2>Scheduler</h2>
<table>
<tr><th>Mode</th><td id="mode" class="{{mode .Scheduler.Mode}}">{{mode .Scheduler.Mode}}</td></tr>
<tr><th>Budget</th><td>{{.Scheduler.Budget}} / {{.Scheduler.Ceiling}}</td></tr>
<tr><th>Wake timer</th><td>{{.Scheduler.Interval}}</td></tr>
<tr><th>Touch</th><td>{{if .Scheduler.Touch.Active}}slots {{slots .Scheduler.Touch.Slots}} at ({{.Scheduler.Touch.X}}, {{.Scheduler.Touch.Y}}){{else}}none{{end}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Iterations</th><td>{{.Scheduler.Iterations}}</td></tr>
<tr><th>Suspends</th><td>{{.Scheduler.Suspends}}</td></tr>
<tr><th>Shallow sleeps</th><td>{{.Scheduler.Sleeps.Shallow}}</td></tr>
<tr><th>Deep sleeps</th><td>{{.Scheduler.Sleeps.Deep}}</td></tr>
{{range edges .Scheduler.Transitions}}<tr><th>{{.}}</th><td>{{index $.Scheduler.Transitions .}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Tuner</th><td>{{.Config.Tuner}}</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Engine</th><td>{{.Config.Engine}}</td></tr>
<tr><th>Active</th><td>{{.Config.ActiveHz}}Hz, {{.Config.ActiveTimeout}} timeout, {{.Config.ActiveInterval}} interval</td></tr>
<tr><th>ALR</th><td>{{.Config.ALRHz}}Hz, {{.Config.ALRTimeout}} timeout, {{.Config.ALRInterval}} interval</td></tr>
<tr><th>LED output</th><td>{{if .Config.Output}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
