package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatSystemPayload(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 4, 2, 7, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
		Event:     EventShutdown,
		Reason:    "SIGTERM",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Controller.Timestamp != "2026-04-02T05:30:00Z" {
		t.Errorf("timestamp: got %s", parsed.Controller.Timestamp)
	}
	if parsed.Controller.Event != "SHUTDOWN" || parsed.Controller.Reason != "SIGTERM" {
		t.Errorf("unexpected payload: %+v", parsed.Controller)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})

	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["controller"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	got, err := FormatSystemPayload(SystemEvent{Event: EventHeartbeat, RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("got %s, want raw payload", got)
	}
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics()
	if topics.Command != "device/command" || topics.Sensor != "device/sensor/data" || topics.Status != "device/controller/status" {
		t.Errorf("unexpected topics: %+v", topics)
	}
}

func TestRealChannelUnavailableBeforeConnect(t *testing.T) {
	c := NewRealChannel(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test"})

	if c.IsConnected() {
		t.Fatal("expected disconnected channel")
	}
	if err := c.Publish([]byte{1, 2, 3}); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Publish: got %v, want ErrChannelUnavailable", err)
	}
}

func TestRealChannelBuffersStatusWhileOffline(t *testing.T) {
	c := NewRealChannel(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test", BufferSize: 2})

	for _, ev := range []string{EventStartup, EventHeartbeat, EventHeartbeat} {
		if err := c.PublishStatus(SystemEvent{Timestamp: time.Now(), Event: ev}); err != nil {
			t.Fatalf("PublishStatus(%s): %v", ev, err)
		}
	}
	if got := c.buffered(); got != 2 {
		t.Errorf("buffered: got %d, want 2", got)
	}
}

func TestRealChannelSubscribeOffline(t *testing.T) {
	c := NewRealChannel(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test"})
	if err := c.Subscribe(func([]byte) {}); err != nil {
		t.Errorf("Subscribe while offline should defer, got %v", err)
	}
}

func TestFakeChannel(t *testing.T) {
	f := NewFakeChannel()
	var _ Channel = f

	if err := f.Publish([]byte{1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.SetConnected(false)
	if err := f.Publish([]byte{2}); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("got %v, want ErrChannelUnavailable", err)
	}
	f.PublishStatus(SystemEvent{Event: EventHeartbeat})

	f.SetConnected(true)
	boom := errors.New("boom")
	f.SetPublishError(boom)
	if err := f.Publish([]byte{3}); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}

	if len(f.Frames()) != 1 || f.Frames()[0][0] != 1 {
		t.Errorf("frames: got %v", f.Frames())
	}
	if len(f.Statuses()) != 1 {
		t.Errorf("statuses: got %d, want 1", len(f.Statuses()))
	}

	var got []byte
	if f.Deliver([]byte("x")) {
		t.Error("Deliver without handler should report false")
	}
	f.Subscribe(func(p []byte) { got = p })
	f.Deliver([]byte(`{"temp":20}`))
	if string(got) != `{"temp":20}` {
		t.Errorf("delivered: got %s", got)
	}

	f.Close()
	if !f.Closed() {
		t.Error("expected Closed")
	}
}

func TestFakeChannelBlockPublish(t *testing.T) {
	f := NewFakeChannel()
	release := f.BlockPublish()

	done := make(chan error, 1)
	go func() { done <- f.Publish([]byte{7}) }()

	deadline := time.Now().Add(time.Second)
	for f.Waiting() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Publish did not block")
		}
		time.Sleep(time.Millisecond)
	}
	if len(f.Frames()) != 0 {
		t.Error("frame recorded before release")
	}

	release()
	release()
	if err := <-done; err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f.Waiting() != 0 || len(f.Frames()) != 1 {
		t.Errorf("after release: waiting=%d frames=%d", f.Waiting(), len(f.Frames()))
	}
	if err := f.Publish([]byte{8}); err != nil || len(f.Frames()) != 2 {
		t.Errorf("later Publish: %v, frames=%d", err, len(f.Frames()))
	}
}

var _ Channel = (*RealChannel)(nil)
