package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/codec"
	"github.com/sweeney/smart-watering/internal/controller"
	"github.com/sweeney/smart-watering/internal/decision"
	"github.com/sweeney/smart-watering/internal/gpio"
	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/mqtt"
	"github.com/sweeney/smart-watering/internal/scheduler"
	"github.com/sweeney/smart-watering/internal/sensors"
	"github.com/sweeney/smart-watering/internal/status"
)

// dryOracle recommends watering when soil moisture is below 30.
type dryOracle struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (o *dryOracle) Ask(_ context.Context, temp, hum, soil float64) ([]byte, error) {
	o.calls.Add(1)
	if o.fail.Load() {
		return nil, errors.New("exit status 1")
	}
	if soil < 30 {
		return []byte(fmt.Sprintf(`{"action":1,"reason":"soil %.0f%% is dry"}`, soil)), nil
	}
	return []byte(`{"action":0,"reason":"soil is wet"}`), nil
}

type system struct {
	ctrl   *controller.Controller
	ch     *mqtt.FakeChannel
	clock  *scheduler.FakeClock
	oracle *dryOracle
	bcast  *broadcast.Broadcaster
	cancel context.CancelCauseFunc
	done   chan error
	once   sync.Once
}

func startSystem(t *testing.T) *system {
	t.Helper()
	start := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := scheduler.NewFakeClock(start)
	tracker := status.NewTracker(start, status.Config{Broker: "tcp://broker.local:1883", Encoding: "binary"})
	tracker.SetClock(clock.Now)

	s := &system{
		ch:     mqtt.NewFakeChannel(),
		clock:  clock,
		oracle: &dryOracle{},
		bcast:  broadcast.New(tracker.Current, 0),
		done:   make(chan error, 1),
	}
	s.ctrl = controller.New(controller.Options{
		Machine:     logic.NewMachine(logic.Config{AIEnabled: true}),
		Store:       sensors.NewStore(sensors.Reading{Temp: 24, Hum: 66, SoilMoisture: 60, WaterLevel: 56}),
		Channel:     s.ch,
		Tracker:     tracker,
		Broadcaster: s.bcast,
		Decider:     decision.NewGate(s.oracle, decision.Config{Timeout: time.Second, BreakerFailures: 100}),
		Resync:      true,
		Now:         clock.Now,
		AfterFunc:   clock.AfterFunc,
	})

	ctx, cancel := context.WithCancelCause(context.Background())
	s.cancel = cancel
	go func() { s.done <- s.ctrl.Run(ctx) }()
	t.Cleanup(func() { s.shutdown(t, nil) })

	// Run subscribes before it publishes STARTUP.
	s.waitFor(t, "startup event", func() bool { return len(s.ch.Statuses()) > 0 })
	return s
}

func (s *system) shutdown(t *testing.T, cause error) {
	t.Helper()
	s.once.Do(func() {
		s.cancel(cause)
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
}

func (s *system) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *system) commands(t *testing.T) []codec.Command {
	t.Helper()
	var out []codec.Command
	for _, f := range s.ch.Frames() {
		cmd, err := codec.Decode(f)
		if err != nil {
			t.Fatalf("frame failed verification: %v", err)
		}
		out = append(out, cmd)
	}
	return out
}

// TestIntegrationFullFlow follows a dry reading through the oracle to an
// autonomous start, the auto-stop, and a wet reading that changes nothing.
func TestIntegrationFullFlow(t *testing.T) {
	s := startSystem(t)
	ind := gpio.NewFakeIndicator()
	go controller.FollowPump(s.bcast.Subscribe(), ind)

	s.ch.Deliver([]byte(`{"temp":"31.2","humidity":40,"soilMoisture":18}`))
	s.waitFor(t, "AI start", func() bool { return s.ctrl.State().PumpOn })

	st := s.ctrl.State()
	if st.LastCommand.Kind != logic.KindAIStart || st.LastVerdict.Reason != "soil 18% is dry" {
		t.Errorf("after AI start: %+v %+v", st.LastCommand, st.LastVerdict)
	}
	if r := s.ctrl.Sensors(); r.Temp != 31.2 || r.Hum != 40 || r.WaterLevel != 56 {
		t.Errorf("reading: got %+v", r)
	}

	s.clock.Advance(10 * time.Second)
	s.waitFor(t, "auto-stop", func() bool { return !s.ctrl.State().PumpOn })

	s.ch.Deliver([]byte(`{"soil":75}`))
	s.waitFor(t, "second consultation", func() bool { return s.oracle.calls.Load() == 2 })
	s.waitFor(t, "verdict recorded", func() bool {
		v := s.ctrl.State().LastVerdict
		return v != nil && v.Reason == "soil is wet"
	})

	want := []codec.Command{
		{Control: codec.ControlStart, DurationSeconds: 10, ModeFlag: codec.ModeFlagAutomatic},
		{Control: codec.ControlStop, ModeFlag: codec.ModeFlagAutomatic},
	}
	got := s.commands(t)
	if len(got) != len(want) {
		t.Fatalf("commands: got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	s.waitFor(t, "indicator", func() bool { return len(ind.History()) == 3 })
	if h := ind.History(); h[0] || !h[1] || h[2] {
		t.Errorf("indicator history: got %v", h)
	}

	counts := s.ctrl.State().Counts
	if counts.AIStarts != 1 || counts.AutoStops != 1 {
		t.Errorf("counts: got %+v", counts)
	}
}

func TestIntegrationNoAutonomousStartInManualMode(t *testing.T) {
	s := startSystem(t)
	s.ctrl.SetMode(context.Background(), logic.ModeManual)

	s.ch.Deliver([]byte(`{"soil":5}`))
	s.ch.Deliver([]byte(`{"soil":4}`))

	if n := s.oracle.calls.Load(); n != 0 {
		t.Errorf("oracle consulted %d times in manual mode", n)
	}
	if s.ctrl.State().PumpOn {
		t.Error("pump started in manual mode")
	}
}

func TestIntegrationOracleFailureLeavesPumpIdle(t *testing.T) {
	s := startSystem(t)
	s.oracle.fail.Store(true)

	s.ch.Deliver([]byte(`{"soil":5}`))
	s.waitFor(t, "oracle call", func() bool { return s.oracle.calls.Load() == 1 })

	// A later reading is consulted again once the failure has been absorbed.
	s.oracle.fail.Store(false)
	s.waitFor(t, "retry", func() bool {
		s.ch.Deliver([]byte(`{"soil":5}`))
		return s.ctrl.State().PumpOn
	})
	if s.ctrl.State().LastCommand.Kind != logic.KindAIStart {
		t.Errorf("lastCommand: got %+v", s.ctrl.State().LastCommand)
	}
}

func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	s := startSystem(t)
	s.ch.SetPublishError(errors.New("broker unavailable"))

	res, err := s.ctrl.Start(context.Background(), 20)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Published {
		t.Error("expected Published=false")
	}

	s.ch.SetPublishError(nil)
	s.clock.Advance(20 * time.Second)
	s.waitFor(t, "auto-stop", func() bool { return !s.ctrl.State().PumpOn })

	if got := s.commands(t); len(got) != 1 || got[0].Control != codec.ControlStop {
		t.Errorf("commands: got %+v", got)
	}
}

func TestIntegrationReconnectResync(t *testing.T) {
	s := startSystem(t)
	s.ctrl.Start(context.Background(), 60)
	s.clock.Advance(45*time.Second + 500*time.Millisecond)

	s.ctrl.NotifyReconnect()
	s.waitFor(t, "resync frame", func() bool { return len(s.ch.Frames()) == 2 })

	got := s.commands(t)[1]
	want := codec.Command{Control: codec.ControlStart, DurationSeconds: 15, ModeFlag: codec.ModeFlagAutomatic}
	if got != want {
		t.Errorf("resync: got %+v, want %+v", got, want)
	}
}

func TestIntegrationStartupThenShutdown(t *testing.T) {
	s := startSystem(t)
	s.waitFor(t, "startup event", func() bool { return len(s.ch.Statuses()) == 1 })

	s.ctrl.Start(context.Background(), 30)
	s.shutdown(t, errors.New("SIGINT"))

	statuses := s.ch.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("status events: got %d, want 2", len(statuses))
	}

	for i, want := range []string{mqtt.EventStartup, mqtt.EventShutdown} {
		ev := statuses[i]
		if ev.Event != want || !ev.Retained {
			t.Errorf("event %d: got %s retained=%v", i, ev.Event, ev.Retained)
		}

		payload, err := mqtt.FormatSystemPayload(ev)
		if err != nil {
			t.Fatal(err)
		}
		var parsed status.StatusJSON
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("event %d payload: %v", i, err)
		}
		if parsed.Status.Event != want || parsed.Status.MQTT.Broker != "tcp://broker.local:1883" {
			t.Errorf("event %d payload: %+v", i, parsed.Status)
		}
	}

	var shutdown status.StatusJSON
	json.Unmarshal(statuses[1].RawPayload, &shutdown)
	if shutdown.Status.Reason != "SIGINT" || !shutdown.Status.Pump.PumpOn {
		t.Errorf("shutdown payload: %+v", shutdown.Status)
	}
}
