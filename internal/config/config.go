// Package config resolves the controller's settings from flags, the
// environment and an optional .env file. Flags win over the environment,
// which wins over the built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Oracle modes.
const (
	OracleExec = "exec"
	OracleHTTP = "http"
	OracleOff  = "off"
)

// Config holds every runtime setting.
type Config struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	TopicCommand string
	TopicSensor  string
	TopicStatus  string

	Encoding        string
	DefaultDuration time.Duration

	AIEnabled     bool
	Oracle        string
	OracleCmd     string
	OracleURL     string
	OracleTimeout time.Duration

	Heartbeat    time.Duration
	HTTPAddr     string
	CORSOrigins  []string
	IndicatorPin int
	Resync       bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Broker:          "tcp://localhost:1883",
		ClientID:        "pump-controller",
		TopicCommand:    "device/command",
		TopicSensor:     "device/sensor/data",
		TopicStatus:     "device/controller/status",
		Encoding:        "binary",
		DefaultDuration: 10 * time.Second,
		AIEnabled:       true,
		Oracle:          OracleExec,
		OracleCmd:       "python3 AI_service.py",
		OracleTimeout:   5 * time.Second,
		Heartbeat:       time.Minute,
		HTTPAddr:        ":3001",
		CORSOrigins:     []string{"*"},
		IndicatorPin:    -1,
		Resync:          true,
	}
}

// Load reads ./.env when present, then resolves args against the process
// environment.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse resolves args against the environment exposed by lookup.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	env := envReader{lookup: lookup}

	c.Broker = env.str("MQTT_BROKER", c.Broker)
	c.ClientID = env.str("MQTT_CLIENT_ID", c.ClientID)
	c.Username = env.str("MQTT_USERNAME", c.Username)
	c.Password = env.str("MQTT_PASSWORD", c.Password)
	c.TopicCommand = env.str("MQTT_TOPIC_COMMAND", c.TopicCommand)
	c.TopicSensor = env.str("MQTT_TOPIC_SENSOR", c.TopicSensor)
	c.TopicStatus = env.str("MQTT_TOPIC_STATUS", c.TopicStatus)
	c.Encoding = env.str("COMMAND_ENCODING", c.Encoding)
	c.DefaultDuration = env.duration("PUMP_DEFAULT_DURATION", c.DefaultDuration)
	c.AIEnabled = env.boolean("AI_ENABLED", c.AIEnabled)
	c.Oracle = env.str("AI_ORACLE", c.Oracle)
	c.OracleCmd = env.str("AI_ORACLE_CMD", c.OracleCmd)
	c.OracleURL = env.str("AI_ORACLE_URL", c.OracleURL)
	c.OracleTimeout = env.duration("AI_ORACLE_TIMEOUT", c.OracleTimeout)
	c.Heartbeat = env.duration("HEARTBEAT_INTERVAL", c.Heartbeat)
	if port, ok := env.get("PORT"); ok {
		c.HTTPAddr = ":" + port
	}
	c.HTTPAddr = env.str("HTTP_ADDR", c.HTTPAddr)
	origins := env.str("CORS_ORIGINS", strings.Join(c.CORSOrigins, ","))
	c.IndicatorPin = env.integer("INDICATOR_PIN", c.IndicatorPin)
	c.Resync = env.boolean("RESYNC_ON_RECONNECT", c.Resync)
	if env.err != nil {
		return Config{}, env.err
	}

	flags := flag.NewFlagSet("pump-controller", flag.ContinueOnError)
	flags.StringVar(&c.Broker, "broker", c.Broker, "MQTT broker address")
	flags.StringVar(&c.ClientID, "client-id", c.ClientID, "MQTT client ID")
	flags.StringVar(&c.Username, "mqtt-user", c.Username, "MQTT username")
	flags.StringVar(&c.Password, "mqtt-password", c.Password, "MQTT password")
	flags.StringVar(&c.TopicCommand, "topic-command", c.TopicCommand, "Topic pump commands are published on")
	flags.StringVar(&c.TopicSensor, "topic-sensor", c.TopicSensor, "Topic sensor readings arrive on")
	flags.StringVar(&c.TopicStatus, "topic-status", c.TopicStatus, "Topic for controller lifecycle events")
	flags.StringVar(&c.Encoding, "encoding", c.Encoding, `Command encoding ("binary" or "json")`)
	flags.DurationVar(&c.DefaultDuration, "default-duration", c.DefaultDuration, "Run time when a start names no duration")
	flags.BoolVar(&c.AIEnabled, "ai", c.AIEnabled, "Consult the oracle on new sensor readings")
	flags.StringVar(&c.Oracle, "oracle", c.Oracle, `Oracle transport ("exec", "http" or "off")`)
	flags.StringVar(&c.OracleCmd, "oracle-cmd", c.OracleCmd, "Oracle command line (exec mode)")
	flags.StringVar(&c.OracleURL, "oracle-url", c.OracleURL, "Oracle endpoint (http mode)")
	flags.DurationVar(&c.OracleTimeout, "oracle-timeout", c.OracleTimeout, "Hard timeout for one oracle call")
	flags.DurationVar(&c.Heartbeat, "heartbeat", c.Heartbeat, "Heartbeat interval (0 to disable)")
	flags.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP API address (empty to disable)")
	flags.StringVar(&origins, "cors-origins", origins, "Comma-separated allowed CORS origins")
	flags.IntVar(&c.IndicatorPin, "indicator-pin", c.IndicatorPin, "GPIO line mirroring the pump state (-1 to disable)")
	flags.BoolVar(&c.Resync, "resync", c.Resync, "Republish the pump state after a broker reconnect")

	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.CORSOrigins = splitList(origins)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values that flag parsing cannot.
func (c Config) Validate() error {
	switch c.Encoding {
	case "binary", "json":
	default:
		return fmt.Errorf("config: encoding: unknown value %q", c.Encoding)
	}
	switch c.Oracle {
	case OracleExec:
		if strings.TrimSpace(c.OracleCmd) == "" {
			return errors.New("config: oracle-cmd: required when oracle=exec")
		}
	case OracleHTTP:
		if c.OracleURL == "" {
			return errors.New("config: oracle-url: required when oracle=http")
		}
	case OracleOff:
	default:
		return fmt.Errorf("config: oracle: unknown value %q", c.Oracle)
	}
	if c.DefaultDuration < time.Second {
		return fmt.Errorf("config: default-duration: %v is shorter than 1s", c.DefaultDuration)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("config: oracle-timeout: must be positive, got %v", c.OracleTimeout)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("config: heartbeat: must not be negative, got %v", c.Heartbeat)
	}
	if c.Broker == "" {
		return errors.New("config: broker: required")
	}
	return nil
}

// envReader reads typed values, keeping the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
