package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/doorbell-agent/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		if d < time.Minute {
			return d.String()
		}
		days := int(d / (24 * time.Hour))
		rest := d - time.Duration(days)*24*time.Hour
		if days == 0 {
			return rest.String()
		}
		return fmt.Sprintf("%dd%s", days, rest)
	},
	"ts": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Doorbell</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.inactive { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Doorbell</h1>

<h2>Device</h2>
<table>
<tr><th>Serial</th><td id="serial">{{if .Registered}}{{.Serial}}{{else}}unregistered{{end}}</td></tr>
<tr><th>Version</th><td>{{.Version}}</td></tr>
{{range .Integrations}}<tr><th>{{.Type}}</th><td>{{if .IP}}{{.IP}}{{else}}no address{{end}}</td></tr>
{{end}}</table>

<h2>Last Ring</h2>
<table>
{{with .LastRing}}<tr><th>Time</th><td>{{ts .Time}}</td></tr>
<tr><th>Status</th><td id="ring-status" class="{{.Status}}">{{.Status}}</td></tr>
<tr><th>Source</th><td>{{.Source}}</td></tr>
<tr><th>Server notified</th><td>{{if .Notified}}yes{{else}}no{{end}}</td></tr>
{{else}}<tr><td>no rings yet</td></tr>
{{end}}</table>

<h2>Ring Counts</h2>
<table>
<tr><th>Active</th><td>{{.Rings.Active}}</td></tr>
<tr><th>Error</th><td>{{.Rings.Error}}</td></tr>
<tr><th>Inactive</th><td>{{.Rings.Inactive}}</td></tr>
<tr><th>Suppressed</th><td>{{.Rings.Suppressed}}</td></tr>
<tr><th>Button presses</th><td>{{.Button.Presses}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Server</th><td>{{.Config.ServerURL}}</td></tr>
{{with .LastHeartbeat}}<tr><th>Heartbeat</th><td class="{{if .OK}}connected{{else}}disconnected{{end}}">{{ts .Time}}{{if not .OK}} ({{.Error}}){{end}}</td></tr>
{{end}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Hold</th><td>{{.Config.HoldMs}}ms</td></tr>
<tr><th>Cooldown</th><td>{{.Config.CooldownMs}}ms</td></tr>
<tr><th>Heartbeat interval</th><td>{{.Config.HeartbeatMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
