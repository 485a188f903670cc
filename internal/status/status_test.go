package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
)

var start = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func runningSnapshot() logic.Snapshot {
	m := logic.NewMachine(logic.Config{AIEnabled: true})
	m.Start(start, 30, logic.SourceUser)
	m.RecordVerdict(logic.Verdict{Action: logic.ActionNoOp, Reason: "soil wet"})
	return m.Snapshot(start)
}

func TestNewTracker(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", HTTPAddr: ":3001", Encoding: "binary"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config != cfg {
		t.Errorf("Config: got %+v", snap.Config)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Pump.PumpOn {
		t.Error("expected pump off initially")
	}
}

func TestSnapshotRecomputesRemaining(t *testing.T) {
	tr := NewTracker(start, Config{})
	now := start.Add(12 * time.Second)
	tr.SetClock(func() time.Time { return now })

	tr.Update(runningSnapshot())

	snap := tr.Snapshot()
	if snap.Pump.Remaining != 18*time.Second {
		t.Errorf("Remaining: got %v, want 18s", snap.Pump.Remaining)
	}
	if snap.Uptime() != 12*time.Second {
		t.Errorf("Uptime: got %v, want 12s", snap.Uptime())
	}
}

func TestUpdateSensorsAndCurrent(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.Update(runningSnapshot())
	tr.UpdateSensors(sensors.Reading{Temp: 23, SoilMoisture: 41})

	p, r := tr.Current()
	if !p.PumpOn || r.Temp != 23 || r.SoilMoisture != 41 {
		t.Errorf("Current: got pump=%+v sensors=%+v", p, r)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			tr.Update(runningSnapshot())
		}()
		go func(i int) {
			defer wg.Done()
			tr.UpdateSensors(sensors.Reading{Temp: float64(i)})
			tr.SetMQTTConnected(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
}

func TestFormatStateRunning(t *testing.T) {
	st := FormatState(runningSnapshot().At(start.Add(10 * time.Second)))

	if !st.PumpOn || st.Mode != "automatic" {
		t.Errorf("pump/mode: got %+v", st)
	}
	if st.PumpStartTime == nil || *st.PumpStartTime != start.UnixMilli() {
		t.Errorf("pumpStartTime: got %v", st.PumpStartTime)
	}
	if st.PumpDuration != 30000 || st.RemainingTime != 20000 {
		t.Errorf("duration/remaining: got %d/%d", st.PumpDuration, st.RemainingTime)
	}
	if st.LastCommand == nil || *st.LastCommand != "start" {
		t.Errorf("lastCommand: got %v", st.LastCommand)
	}
	if st.LastAIDecision == nil || *st.LastAIDecision != 0 || *st.LastAIReason != "soil wet" {
		t.Errorf("verdict: got %v/%v", st.LastAIDecision, st.LastAIReason)
	}
}

func TestFormatStateIdleUsesNulls(t *testing.T) {
	m := logic.NewMachine(logic.Config{})
	data, err := json.Marshal(FormatState(m.Snapshot(start)))
	if err != nil {
		t.Fatal(err)
	}

	want := `{"pumpOn":false,"mode":"automatic","pumpStartTime":null,"pumpDuration":0,"remainingTime":0,"lastCommand":null,"lastCommandTime":null,"aiEnabled":false,"lastAIDecision":null,"lastAIReason":null}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestFormatSensors(t *testing.T) {
	obs := time.UnixMilli(1767225600123)
	data, _ := json.Marshal(FormatSensors(sensors.Reading{
		Temp: 24, Hum: 66, SoilMoisture: 60, WaterLevel: 56, Rain: 1, FlowRate: 0.5, ObservedAt: obs,
	}))

	want := `{"temp":24,"hum":66,"soil":60,"level":56,"rain":1,"flow":0.5,"timestamp":1767225600123}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestFormatAIStatus(t *testing.T) {
	ai := FormatAIStatus(runningSnapshot())
	if !ai.AIEnabled || ai.LastDecision == nil || *ai.LastReason != "soil wet" {
		t.Errorf("got %+v", ai)
	}
}

func TestFormatJSON(t *testing.T) {
	tr := NewTracker(start, Config{Broker: "tcp://broker:1883", Encoding: "binary"})
	tr.SetClock(func() time.Time { return start.Add(90 * time.Second) })
	tr.Update(runningSnapshot())
	tr.SetMQTTConnected(true)

	data := FormatJSON(tr.Snapshot())
	if !strings.Contains(string(data), "\n  ") {
		t.Error("expected indented JSON")
	}

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if s.Event != "" || s.Reason != "" {
		t.Errorf("web status should not carry event/reason: %+v", s)
	}
	if s.UptimeSeconds != 90 || s.StartTime != "2026-05-01T08:00:00Z" {
		t.Errorf("uptime/start: got %d %s", s.UptimeSeconds, s.StartTime)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt: got %+v", s.MQTT)
	}
	if s.Counts.Starts != 1 || !s.Pump.PumpOn || s.Pump.RemainingTime != 0 {
		t.Errorf("pump/counts: got %+v %+v", s.Pump, s.Counts)
	}
	if s.Config.Encoding != "binary" {
		t.Errorf("config: got %+v", s.Config)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(start, Config{})
	data := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")

	if strings.Contains(string(data), "\n") {
		t.Error("status event should be compact")
	}
	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("got %+v", parsed.Status)
	}
}
