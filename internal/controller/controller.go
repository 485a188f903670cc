// Package controller runs the single event loop that owns the pump state
// machine. Every mutation happens on that loop: inbound sensor payloads,
// human commands, auto-stop expiries, oracle verdicts and broker reconnects
// are all delivered to it as events.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/codec"
	"github.com/sweeney/smart-watering/internal/decision"
	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/metrics"
	"github.com/sweeney/smart-watering/internal/mqtt"
	"github.com/sweeney/smart-watering/internal/scheduler"
	"github.com/sweeney/smart-watering/internal/sensors"
	"github.com/sweeney/smart-watering/internal/status"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("controller stopped")

// Decider returns a verdict for a sensor reading. *decision.Gate satisfies it.
type Decider interface {
	Decide(ctx context.Context, r sensors.Reading) (logic.Verdict, error)
}

// Options wires the controller's collaborators.
type Options struct {
	Machine     *logic.Machine
	Store       *sensors.Store
	Channel     mqtt.Channel
	Tracker     *status.Tracker
	Broadcaster *broadcast.Broadcaster

	// Decider is consulted for autonomous starts; nil disables the oracle.
	Decider Decider

	// Encoder turns commands into frames (nil = codec.Binary).
	Encoder codec.Encoder

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Heartbeat is the status event interval (0 disables).
	Heartbeat time.Duration

	// Resync republishes the believed pump state after a broker reconnect.
	Resync bool

	// Now and AfterFunc replace the real clock in tests.
	Now       func() time.Time
	AfterFunc scheduler.AfterFunc
}

// Result reports an applied transition.
type Result struct {
	State logic.Snapshot

	// RunTime is how long the pump ran, for stops.
	RunTime time.Duration

	// Published is false when the command could not be handed to the broker.
	// The transition stands either way.
	Published  bool
	PublishErr error
}

type verdictResult struct {
	verdict logic.Verdict
	err     error
	epoch   uint64
}

// sensorBuffer bounds the payloads queued for the loop. The subscription
// handler never blocks: when the queue is full the payload is dropped.
const sensorBuffer = 32

// Controller serializes every state change through Run.
type Controller struct {
	machine *logic.Machine
	store   *sensors.Store
	channel mqtt.Channel
	tracker *status.Tracker
	bcast   *broadcast.Broadcaster
	decider Decider
	encoder codec.Encoder
	metrics *metrics.Metrics
	sched   *scheduler.Scheduler

	heartbeat time.Duration
	resync    bool
	now       func() time.Time

	requests   chan func()
	sensorIn   chan []byte
	fired      chan uint64
	verdicts   chan verdictResult
	reconnects chan struct{}
	done       chan struct{}

	// Loop-owned.
	consulting bool
	runCtx     context.Context
	oracles    sync.WaitGroup
}

// New creates a controller. Call Run to start processing events.
func New(opts Options) *Controller {
	c := &Controller{
		machine:    opts.Machine,
		store:      opts.Store,
		channel:    opts.Channel,
		tracker:    opts.Tracker,
		bcast:      opts.Broadcaster,
		decider:    opts.Decider,
		encoder:    opts.Encoder,
		metrics:    opts.Metrics,
		heartbeat:  opts.Heartbeat,
		resync:     opts.Resync,
		now:        opts.Now,
		requests:   make(chan func()),
		sensorIn:   make(chan []byte, sensorBuffer),
		fired:      make(chan uint64),
		verdicts:   make(chan verdictResult),
		reconnects: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if c.encoder == nil {
		c.encoder = codec.Binary{}
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.now == nil {
		c.now = time.Now
	}

	fire := func(id uint64) {
		select {
		case c.fired <- id:
		case <-c.done:
		}
	}
	if opts.AfterFunc != nil {
		c.sched = scheduler.NewWithClock(opts.AfterFunc, fire)
	} else {
		c.sched = scheduler.New(fire)
	}
	return c
}

// Run processes events until ctx is done. It publishes STARTUP on entry and
// SHUTDOWN on exit; the shutdown reason is context.Cause(ctx) unless that is
// plain cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer func() {
		close(c.done)
		// In-flight oracle calls see ctx cancelled and drop their result.
		c.oracles.Wait()
	}()

	now := c.now()
	c.tracker.Update(c.machine.Snapshot(now))
	c.tracker.UpdateSensors(c.store.Current())
	c.tracker.SetMQTTConnected(c.channel.IsConnected())

	if err := c.channel.Subscribe(c.HandleSensorPayload); err != nil {
		log.Printf("controller: subscribe failed: %v", err)
	}
	c.publishStatus(mqtt.EventStartup, "", true)

	var tick <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			return nil

		case fn := <-c.requests:
			c.drainSensors()
			fn()

		case payload := <-c.sensorIn:
			c.handleSensor(payload)

		case id := <-c.fired:
			c.handleAutoStop(id)

		case res := <-c.verdicts:
			c.handleVerdict(res)

		case <-c.reconnects:
			c.handleReconnect()

		case <-tick:
			c.tracker.SetMQTTConnected(c.channel.IsConnected())
			c.publishStatus(mqtt.EventHeartbeat, "", false)
		}
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	reason := ""
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		reason = cause.Error()
	}
	log.Printf("controller: shutting down (reason=%q)", reason)

	c.sched.Close()
	c.tracker.SetMQTTConnected(c.channel.IsConnected())
	c.publishStatus(mqtt.EventShutdown, reason, true)
}

// do runs fn on the loop and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// Start turns the pump on for durationSeconds (0 = default duration).
func (c *Controller) Start(ctx context.Context, durationSeconds uint32) (Result, error) {
	var res Result
	var terr error
	err := c.do(ctx, func() {
		tr, err := c.machine.Start(c.now(), durationSeconds, logic.SourceUser)
		if err != nil {
			terr = err
			c.reject(err)
			return
		}
		log.Printf("controller: pump started for %ds (auto-stop=%v)", tr.Command.DurationSeconds, tr.Arm != nil)
		res = c.apply(tr)
	})
	if err != nil {
		return Result{}, err
	}
	return res, terr
}

// Stop turns the pump off.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	var res Result
	var terr error
	err := c.do(ctx, func() {
		tr, err := c.machine.Stop(c.now(), logic.SourceUser)
		if err != nil {
			terr = err
			c.reject(err)
			return
		}
		log.Printf("controller: pump stopped after %v", tr.RunTime.Round(time.Millisecond))
		res = c.apply(tr)
	})
	if err != nil {
		return Result{}, err
	}
	return res, terr
}

// SetMode switches between automatic and manual operation.
func (c *Controller) SetMode(ctx context.Context, mode logic.Mode) (Result, error) {
	var res Result
	var terr error
	err := c.do(ctx, func() {
		tr, err := c.machine.SetMode(c.now(), mode)
		if err != nil {
			terr = err
			c.reject(err)
			return
		}
		log.Printf("controller: mode set to %s", mode)
		res = c.apply(tr)
	})
	if err != nil {
		return Result{}, err
	}
	return res, terr
}

// SetAIEnabled turns autonomous oracle consultation on or off. No command is sent.
func (c *Controller) SetAIEnabled(ctx context.Context, enabled bool) (logic.Snapshot, error) {
	var snap logic.Snapshot
	err := c.do(ctx, func() {
		if c.machine.SetAIEnabled(enabled) {
			log.Printf("controller: AI %s", enabledString(enabled))
		}
		snap = c.publishState()
		c.bcast.BroadcastAI(snap)
	})
	return snap, err
}

// Decide asks the oracle about the current reading and records the verdict.
// It never starts the pump. Failures wrap decision.ErrDecisionUnavailable.
func (c *Controller) Decide(ctx context.Context) (logic.Verdict, error) {
	if c.decider == nil {
		return logic.Verdict{}, fmt.Errorf("%w: oracle disabled", decision.ErrDecisionUnavailable)
	}
	if !c.State().AIEnabled {
		return logic.Verdict{}, fmt.Errorf("%w: AI is disabled", decision.ErrDecisionUnavailable)
	}

	v, err := c.decider.Decide(ctx, c.store.Current())
	if err != nil {
		c.metrics.OracleCall(metrics.ResultUnavailable)
		log.Printf("decision: %v", err)
		return logic.Verdict{}, err
	}
	c.metrics.OracleCall(oracleResult(v, false))

	err = c.do(ctx, func() {
		c.machine.RecordVerdict(v)
		c.bcast.BroadcastAI(c.publishState())
	})
	return v, err
}

// State returns the current pump snapshot.
func (c *Controller) State() logic.Snapshot {
	return c.tracker.Snapshot().Pump
}

// Sensors returns the current reading.
func (c *Controller) Sensors() sensors.Reading {
	return c.store.Current()
}

// HandleSensorPayload queues a raw sensor payload for the loop. It is the
// mqtt.Channel subscription handler and returns without waiting for the loop,
// so a busy loop cannot stall the broker client's network reader.
func (c *Controller) HandleSensorPayload(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sensorIn <- payload:
	default:
		c.metrics.SensorDropped()
		log.Printf("controller: sensor queue full (%d), dropping payload", sensorBuffer)
	}
}

// NotifyReconnect tells the loop the broker link came back. Repeated
// notifications before the loop handles the first are coalesced.
func (c *Controller) NotifyReconnect() {
	select {
	case c.reconnects <- struct{}{}:
	default:
	}
}

// SetConnected records the broker link state for status reporting.
func (c *Controller) SetConnected(connected bool) {
	c.tracker.SetMQTTConnected(connected)
}

// drainSensors applies payloads that were queued before a request, so a
// request observes every reading delivered ahead of it.
func (c *Controller) drainSensors() {
	for {
		select {
		case payload := <-c.sensorIn:
			c.handleSensor(payload)
		default:
			return
		}
	}
}

func (c *Controller) handleSensor(payload []byte) {
	p, err := sensors.ParsePayload(payload)
	if err != nil {
		c.metrics.SensorMessage(false)
		log.Printf("controller: dropping sensor payload: %v", err)
		return
	}
	c.metrics.SensorMessage(true)

	r := c.store.Update(p, c.now())
	c.tracker.UpdateSensors(r)
	c.bcast.BroadcastSensors(r)

	if c.decider == nil || !c.machine.ShouldConsultOracle() {
		return
	}
	if c.consulting {
		return
	}
	c.consult(r)
}

// consult runs the oracle off the loop; the verdict comes back on c.verdicts.
func (c *Controller) consult(r sensors.Reading) {
	c.consulting = true
	epoch := c.machine.Epoch()
	c.oracles.Add(1)
	go func() {
		defer c.oracles.Done()
		v, err := c.decider.Decide(c.runCtx, r)
		select {
		case c.verdicts <- verdictResult{verdict: v, err: err, epoch: epoch}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleVerdict(res verdictResult) {
	c.consulting = false

	if res.err != nil {
		c.metrics.OracleCall(metrics.ResultUnavailable)
		log.Printf("decision: %v (treated as no-op)", res.err)
		return
	}

	c.machine.RecordVerdict(res.verdict)
	tr, ok := c.machine.ApplyVerdict(c.now(), res.verdict, res.epoch)
	c.metrics.OracleCall(oracleResult(res.verdict, res.verdict.Action == logic.ActionStart && !ok))

	if !ok {
		if res.verdict.Action == logic.ActionStart {
			log.Printf("decision: discarding start verdict, state changed since it was requested (%s)", res.verdict.Reason)
		}
		c.bcast.BroadcastAI(c.publishState())
		return
	}

	log.Printf("decision: starting pump: %s", res.verdict.Reason)
	result := c.apply(tr)
	c.bcast.BroadcastAI(result.State)
}

func (c *Controller) handleAutoStop(id uint64) {
	tr, ok := c.machine.AutoStop(c.now(), id)
	if !ok {
		log.Printf("controller: ignoring auto-stop for finished activation %d", id)
		return
	}
	log.Printf("controller: pump auto-stopped after %v", tr.RunTime.Round(time.Millisecond))
	c.apply(tr)
}

func (c *Controller) handleReconnect() {
	c.tracker.SetMQTTConnected(c.channel.IsConnected())
	if !c.resync {
		return
	}
	cmd := c.machine.ResyncCommand(c.now())
	log.Printf("controller: broker reconnected, resyncing device (%s %ds)", cmd.Control, cmd.DurationSeconds)
	c.publish(cmd)
}

// apply performs the side effects of a transition: timers, the command frame,
// the read model and the broadcast. A publish failure does not undo the transition.
func (c *Controller) apply(tr logic.Transition) Result {
	if tr.CancelID != 0 {
		c.sched.Cancel(tr.CancelID)
	}
	if tr.Arm != nil {
		if err := c.sched.Arm(tr.Arm.ActivationID, tr.Arm.After); err != nil {
			log.Printf("controller: arm auto-stop: %v", err)
		}
	}

	err := c.publish(tr.Command)
	c.metrics.Transition(string(tr.Kind))

	snap := c.publishState()
	if tr.Kind == logic.KindSetMode {
		c.bcast.BroadcastMode(snap)
	}
	c.bcast.BroadcastState(snap)

	return Result{
		State:      snap,
		RunTime:    tr.RunTime,
		Published:  err == nil,
		PublishErr: err,
	}
}

// publishState refreshes the read model and returns the new snapshot.
func (c *Controller) publishState() logic.Snapshot {
	snap := c.machine.Snapshot(c.now())
	c.tracker.Update(snap)
	c.metrics.SetPumpRunning(snap.PumpOn)
	return snap
}

func (c *Controller) publish(cmd codec.Command) error {
	frame, err := c.encoder.Encode(cmd)
	if err != nil {
		log.Printf("controller: encode %s: %v", cmd.Control, err)
		return err
	}
	err = c.channel.Publish(frame)
	c.metrics.CommandPublished(cmd.Control.String(), err)
	if err != nil {
		log.Printf("controller: publish %s failed, device may diverge: %v", cmd.Control, err)
	}
	return err
}

func (c *Controller) publishStatus(event, reason string, retained bool) {
	snap := c.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := c.channel.PublishStatus(ev); err != nil {
		log.Printf("controller: publish %s event: %v", event, err)
	}
}

func (c *Controller) reject(err error) {
	reason := "other"
	switch {
	case errors.Is(err, logic.ErrAlreadyRunning):
		reason = "already_running"
	case errors.Is(err, logic.ErrNotRunning):
		reason = "not_running"
	case errors.Is(err, logic.ErrInvalidMode):
		reason = "invalid_mode"
	}
	c.metrics.Rejected(reason)
	log.Printf("controller: rejected: %v", err)
}

func oracleResult(v logic.Verdict, discarded bool) string {
	switch {
	case discarded:
		return metrics.ResultDiscarded
	case v.Action == logic.ActionStart:
		return metrics.ResultStart
	default:
		return metrics.ResultNoOp
	}
}

func enabledString(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
