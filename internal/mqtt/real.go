package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	subscribeQoS   = 1
	commandQoS     = 1
	statusQoS      = 1

	// DefaultBufferSize is the number of status events held while offline.
	DefaultBufferSize = 64
)

// Options configures a RealChannel.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   Topics

	// BufferSize bounds the offline status-event buffer (0 = DefaultBufferSize).
	BufferSize int

	// OnReconnect runs after every successful connect except the first.
	OnReconnect func()

	// OnConnectionChange runs whenever the link goes up or down.
	OnConnectionChange func(connected bool)

	// MaxRetryInterval caps the initial-connect backoff (0 = 30s).
	MaxRetryInterval time.Duration
}

// RealChannel talks to an actual MQTT broker.
type RealChannel struct {
	client paho.Client
	opts   Options

	mu        sync.Mutex
	buf       *statusQueue
	handler   func([]byte)
	connected bool // at least one connect has completed
}

// NewRealChannel creates a channel for opts. It does not connect; call Connect.
func NewRealChannel(opts Options) *RealChannel {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}
	c := &RealChannel{
		opts: opts,
		buf:  newStatusQueue(opts.BufferSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "connection lost"})

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout).
		SetWill(opts.Topics.Status, string(will), statusQoS, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	c.client = paho.NewClient(po)
	return c
}

// Connect makes the first connection, retrying with exponential backoff until
// it succeeds or ctx is done. Later drops are handled by paho's auto-reconnect.
func (c *RealChannel) Connect(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = c.opts.MaxRetryInterval
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 30 * time.Second
	}
	eb.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		token := c.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connection timeout")
		}
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Printf("mqtt: connect attempt %d to %s failed: %v (retrying in %v)", attempt, c.opts.Broker, err, next.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// Publish hands a command frame to the client at QoS 1, never retained. It
// returns once the client has accepted the frame and does not wait for the
// broker's PUBACK; a later delivery failure is only logged.
func (c *RealChannel) Publish(frame []byte) error {
	if !c.IsConnected() {
		return ErrChannelUnavailable
	}
	token := c.client.Publish(c.opts.Topics.Command, commandQoS, false, frame)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		return nil
	default:
	}
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: command not acknowledged within %v", publishTimeout)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: command delivery failed: %v", err)
		}
	}()
	return nil
}

// PublishStatus sends a lifecycle event, buffering it while disconnected.
func (c *RealChannel) PublishStatus(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	msg := pendingStatus{event: event.Event, payload: payload, retained: event.Retained}

	if !c.IsConnected() {
		c.mu.Lock()
		c.buf.push(msg)
		c.mu.Unlock()
		log.Printf("mqtt: offline, buffered %s event", event.Event)
		return nil
	}
	if err := c.send(msg); err != nil {
		c.mu.Lock()
		c.buf.push(msg)
		c.mu.Unlock()
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Subscribe registers handler for the sensor topic. The subscription is
// renewed on every reconnect.
func (c *RealChannel) Subscribe(handler func(payload []byte)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(c.client)
}

// IsConnected reports whether the connection is currently open.
func (c *RealChannel) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealChannel) Close() error {
	c.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (c *RealChannel) subscribe(client paho.Client) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return nil
	}

	token := client.Subscribe(c.opts.Topics.Sensor, subscribeQoS, func(_ paho.Client, m paho.Message) {
		h(m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.opts.Topics.Sensor, err)
	}
	return nil
}

func (c *RealChannel) send(msg pendingStatus) error {
	token := c.client.Publish(c.opts.Topics.Status, statusQoS, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// onConnect runs on its own goroutine after every (re)connect.
func (c *RealChannel) onConnect(client paho.Client) {
	c.mu.Lock()
	reconnect := c.connected
	c.connected = true
	pending := c.buf.drain()
	c.mu.Unlock()

	log.Printf("mqtt: connected to %s", c.opts.Broker)

	if err := c.subscribe(client); err != nil {
		log.Printf("mqtt: %v", err)
	}

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered status events", len(pending))
	}
	for i, msg := range pending {
		if err := c.send(msg); err != nil {
			log.Printf("mqtt: replay failed, re-buffering %d events: %v", len(pending)-i, err)
			c.mu.Lock()
			for _, m := range pending[i:] {
				c.buf.push(m)
			}
			c.mu.Unlock()
			break
		}
	}

	if c.opts.OnConnectionChange != nil {
		c.opts.OnConnectionChange(true)
	}
	if reconnect && c.opts.OnReconnect != nil {
		c.opts.OnReconnect()
	}
}

func (c *RealChannel) onConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	if c.opts.OnConnectionChange != nil {
		c.opts.OnConnectionChange(false)
	}
}

// buffered returns the number of status events waiting for a connection.
func (c *RealChannel) buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}
