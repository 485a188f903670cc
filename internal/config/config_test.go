package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse(nil, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Errorf("got %+v, want %+v", c, Default())
	}
}

func TestParseEnvironment(t *testing.T) {
	c, err := Parse(nil, env(map[string]string{
		"MQTT_BROKER":           "tcp://broker:1883",
		"MQTT_TOPIC_COMMAND":    "garden/cmd",
		"COMMAND_ENCODING":      "json",
		"PUMP_DEFAULT_DURATION": "30s",
		"AI_ENABLED":            "false",
		"AI_ORACLE":             "http",
		"AI_ORACLE_URL":         "http://oracle:8000/decide",
		"HEARTBEAT_INTERVAL":    "0",
		"PORT":                  "8080",
		"CORS_ORIGINS":          "http://a.example, http://b.example",
		"INDICATOR_PIN":         "17",
		"RESYNC_ON_RECONNECT":   "0",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Broker != "tcp://broker:1883" || c.TopicCommand != "garden/cmd" || c.Encoding != "json" {
		t.Errorf("strings: got %+v", c)
	}
	if c.DefaultDuration != 30*time.Second || c.Heartbeat != 0 {
		t.Errorf("durations: got %v %v", c.DefaultDuration, c.Heartbeat)
	}
	if c.AIEnabled || c.Resync {
		t.Error("booleans not applied")
	}
	if c.Oracle != OracleHTTP || c.OracleURL != "http://oracle:8000/decide" {
		t.Errorf("oracle: got %q %q", c.Oracle, c.OracleURL)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q, want :8080", c.HTTPAddr)
	}
	if want := []string{"http://a.example", "http://b.example"}; !reflect.DeepEqual(c.CORSOrigins, want) {
		t.Errorf("CORSOrigins: got %v, want %v", c.CORSOrigins, want)
	}
	if c.IndicatorPin != 17 {
		t.Errorf("IndicatorPin: got %d", c.IndicatorPin)
	}
}

func TestHTTPAddrWinsOverPort(t *testing.T) {
	c, err := Parse(nil, env(map[string]string{"PORT": "8080", "HTTP_ADDR": "127.0.0.1:9000"}))
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("got %q", c.HTTPAddr)
	}
}

func TestFlagsWinOverEnvironment(t *testing.T) {
	c, err := Parse(
		[]string{"--broker", "tcp://flag:1883", "--oracle=off", "--default-duration=1m", "--http="},
		env(map[string]string{"MQTT_BROKER": "tcp://env:1883", "AI_ORACLE": "http"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Broker != "tcp://flag:1883" || c.Oracle != OracleOff || c.DefaultDuration != time.Minute {
		t.Errorf("got %+v", c)
	}
	if c.HTTPAddr != "" {
		t.Errorf("HTTPAddr: got %q, want empty", c.HTTPAddr)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"bad env duration", nil, map[string]string{"AI_ORACLE_TIMEOUT": "soon"}, "AI_ORACLE_TIMEOUT"},
		{"bad env bool", nil, map[string]string{"AI_ENABLED": "maybe"}, "AI_ENABLED"},
		{"bad env int", nil, map[string]string{"INDICATOR_PIN": "x"}, "INDICATOR_PIN"},
		{"unknown encoding", []string{"--encoding=xml"}, nil, "encoding"},
		{"unknown oracle", []string{"--oracle=grpc"}, nil, "oracle"},
		{"http oracle without url", []string{"--oracle=http"}, nil, "oracle-url"},
		{"empty oracle command", []string{"--oracle-cmd= "}, nil, "oracle-cmd"},
		{"short default duration", []string{"--default-duration=500ms"}, nil, "default-duration"},
		{"zero oracle timeout", []string{"--oracle-timeout=0"}, nil, "oracle-timeout"},
		{"negative heartbeat", []string{"--heartbeat=-1s"}, nil, "heartbeat"},
		{"unknown flag", []string{"--poll=1s"}, nil, "poll"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, env(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %q", err, tt.want)
			}
		})
	}
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("MQTT_CLIENT_ID", "garden-1")
	t.Setenv("AI_ORACLE", "off")

	c, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ClientID != "garden-1" || c.Oracle != OracleOff {
		t.Errorf("got %+v", c)
	}
}
