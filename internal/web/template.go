package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/smart-watering/internal/status"
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
	"secs": func(d time.Duration) string {
		return fmt.Sprintf("%.0fs", d.Round(time.Second).Seconds())
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Smart Watering</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Smart Watering<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Pump</h2>
<table>
<tr><th>Pump</th><td id="pump-state" class="{{if .Pump.PumpOn}}on{{else}}off{{end}}">{{if .Pump.PumpOn}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Mode</th><td id="mode">{{.Pump.Mode}}</td></tr>
<tr><th>Remaining</th><td id="remaining">{{secs .Pump.Remaining}}</td></tr>
<tr><th>Last command</th><td id="last-command">{{with .Pump.LastCommand}}{{.Kind}} at {{clock .At}}{{else}}none{{end}}</td></tr>
<tr><th>AI</th><td id="ai">{{if .Pump.AIEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Last AI verdict</th><td id="ai-verdict">{{with .Pump.LastVerdict}}{{if eq .Action 1}}start{{else}}no-op{{end}} ({{.Reason}}){{else}}none{{end}}</td></tr>
</table>

<h2>Sensors</h2>
<table>
<tr><th>Temperature</th><td id="temp">{{.Sensors.Temp}}</td></tr>
<tr><th>Humidity</th><td id="hum">{{.Sensors.Hum}}</td></tr>
<tr><th>Soil moisture</th><td id="soil">{{.Sensors.SoilMoisture}}</td></tr>
<tr><th>Water level</th><td id="level">{{.Sensors.WaterLevel}}</td></tr>
<tr><th>Flow</th><td id="flow">{{.Sensors.FlowRate}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Command topic</th><td>{{.Config.TopicCommand}} ({{.Config.Encoding}})</td></tr>
<tr><th>Sensor topic</th><td>{{.Config.TopicSensor}}</td></tr>
</table>

<h2>Transitions</h2>
<table>
<tr><th>Starts</th><td>{{.Pump.Counts.Starts}}</td></tr>
<tr><th>Stops</th><td>{{.Pump.Counts.Stops}}</td></tr>
<tr><th>Auto-stops</th><td>{{.Pump.Counts.AutoStops}}</td></tr>
<tr><th>AI starts</th><td>{{.Pump.Counts.AIStarts}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{clock .StartTime}}</td></tr>
<tr><th>Default duration</th><td>{{.Config.DefaultDurationMs}}ms</td></tr>
<tr><th>Oracle</th><td>{{.Config.Oracle}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/status">API status</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function set(id, text) { document.getElementById(id).textContent = text; }
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data), d = msg.data;
        if (msg.event === "status_update") {
          var el = document.getElementById("pump-state");
          el.textContent = d.pumpOn ? "ON" : "OFF";
          el.className = d.pumpOn ? "on" : "off";
          set("mode", d.mode);
          set("remaining", Math.round(d.remainingTime / 1000) + "s");
          set("last-command", d.lastCommand || "none");
          set("ai", d.aiEnabled ? "enabled" : "disabled");
        } else if (msg.event === "mode_update") {
          set("mode", d.mode);
        } else if (msg.event === "ai_status_update") {
          set("ai", d.aiEnabled ? "enabled" : "disabled");
          if (d.lastReason !== null) {
            set("ai-verdict", (d.lastDecision === 1 ? "start" : "no-op") + " (" + d.lastReason + ")");
          }
        } else if (msg.event === "sensor_update") {
          set("temp", d.temp);
          set("hum", d.hum);
          set("soil", d.soil);
          set("level", d.level);
          set("flow", d.flow);
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
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
