package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/reflow-controller/internal/status"
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
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%ds", int(d.Truncate(time.Second).Seconds()))
	},
	"percent": func(duty float64) string {
		return fmt.Sprintf("%.0f%%", duty*100)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Reflow Oven</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: #c30; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; font-size: 1.1em; padding: 6px 18px; margin-right: 8px; }
</style>
</head>
<body>
<h1>Reflow Oven</h1>

<p>
<button id="start" {{if .Oven.Active}}disabled{{end}}>Start</button>
<button id="stop" {{if not .Oven.Active}}disabled{{end}}>Stop</button>
</p>

<h2>Run</h2>
<table>
<tr><th>Phase</th><td id="phase">{{.Oven.Phase}}</td></tr>
<tr><th>Profile</th><td id="profile">{{.Oven.Profile}}</td></tr>
<tr><th>Elapsed</th><td id="elapsed">{{seconds .Oven.Elapsed}} / {{seconds .Oven.Total}}</td></tr>
<tr><th>Temperature</th><td id="temperature">{{printf "%.1f" .Oven.TemperatureC}} &deg;C</td></tr>
<tr><th>Setpoint</th><td id="setpoint">{{printf "%.0f" .Oven.SetpointC}} &deg;C</td></tr>
<tr><th>Duty</th><td id="duty">{{percent .Oven.Duty}}</td></tr>
<tr><th>Heater</th><td id="relay" class="{{if .Oven.RelayOn}}on{{else}}off{{end}}">{{if .Oven.RelayOn}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Control</h2>
<table>
<tr><th>Kp / Ki / Kd</th><td>{{.Oven.Tunings.Kp}} / {{.Oven.Tunings.Ki}} / {{.Oven.Tunings.Kd}}</td></tr>
<tr><th>Resistance</th><td>{{printf "%.0f" .Oven.ResistanceOhms}} &Omega;</td></tr>
</table>

<h2>Run Counts</h2>
<table>
<tr><th>Started</th><td>{{.Oven.Counts.Started}}</td></tr>
<tr><th>Completed</th><td>{{.Oven.Counts.Completed}}</td></tr>
<tr><th>Stopped</th><td>{{.Oven.Counts.Stopped}}</td></tr>
<tr><th>Faulted</th><td>{{.Oven.Counts.Faulted}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample</th><td>{{.Config.SampleMs}}ms</td></tr>
<tr><th>Control</th><td>{{.Config.ControlMs}}ms</td></tr>
<tr><th>PWM period</th><td>{{.Config.PWMPeriodMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/profiles">Profiles</a></p>

<script>
(function() {
  var $ = function(id) { return document.getElementById(id); };

  function post(path) {
    fetch(path, { method: "POST" }).then(poll);
  }
  $("start").onclick = function() { post("/api/start"); };
  $("stop").onclick = function() { post("/api/stop"); };

  function poll() {
    fetch("/api/monitor").then(function(r) { return r.json(); }).then(function(m) {
      $("phase").textContent = m.phase;
      $("profile").textContent = m.profile;
      $("elapsed").textContent = Math.floor(m.elapsed_ms / 1000) + "s / " + Math.floor(m.total_ms / 1000) + "s";
      $("temperature").textContent = m.temperature_c.toFixed(1) + " °C";
      $("setpoint").textContent = m.setpoint_c.toFixed(0) + " °C";
      $("duty").textContent = Math.round(m.duty * 100) + "%";
      $("relay").textContent = m.relay_on ? "ON" : "OFF";
      $("relay").className = m.relay_on ? "on" : "off";
      $("start").disabled = m.active;
      $("stop").disabled = !m.active;
    }).catch(function() {});
  }
  setInterval(poll, 1000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
