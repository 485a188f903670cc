// Command pump-controller drives an irrigation pump over MQTT, consults an
// external oracle for autonomous starts and serves an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/codec"
	"github.com/sweeney/smart-watering/internal/config"
	"github.com/sweeney/smart-watering/internal/controller"
	"github.com/sweeney/smart-watering/internal/decision"
	"github.com/sweeney/smart-watering/internal/gpio"
	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/metrics"
	"github.com/sweeney/smart-watering/internal/mqtt"
	"github.com/sweeney/smart-watering/internal/sensors"
	"github.com/sweeney/smart-watering/internal/status"
	"github.com/sweeney/smart-watering/internal/web"
)

// initialReading is served until the device reports.
var initialReading = sensors.Reading{Temp: 24, Hum: 66, SoilMoisture: 60, WaterLevel: 56}

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// app holds the wired components that do not touch the network or hardware.
type app struct {
	ctrl    *controller.Controller
	tracker *status.Tracker
	bcast   *broadcast.Broadcaster
	metrics *metrics.Metrics
}

func newApp(cfg config.Config, channel mqtt.Channel, now func() time.Time) (*app, error) {
	enc, err := codec.NewEncoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	decider, err := newDecider(cfg)
	if err != nil {
		return nil, err
	}

	tracker := status.NewTracker(now(), statusConfig(cfg))
	tracker.SetClock(now)
	a := &app{
		tracker: tracker,
		bcast:   broadcast.New(tracker.Current, broadcast.DefaultBuffer),
		metrics: metrics.New(),
	}
	a.ctrl = controller.New(controller.Options{
		Machine: logic.NewMachine(logic.Config{
			DefaultDuration: cfg.DefaultDuration,
			AIEnabled:       cfg.AIEnabled,
		}),
		Store:       sensors.NewStore(initialReading),
		Channel:     channel,
		Tracker:     tracker,
		Broadcaster: a.bcast,
		Decider:     decider,
		Encoder:     enc,
		Metrics:     a.metrics,
		Heartbeat:   cfg.Heartbeat,
		Resync:      cfg.Resync,
		Now:         now,
	})
	return a, nil
}

// newDecider returns the oracle gate for cfg, or nil when the oracle is off.
func newDecider(cfg config.Config) (controller.Decider, error) {
	var oracle decision.Oracle
	switch cfg.Oracle {
	case config.OracleOff:
		return nil, nil
	case config.OracleHTTP:
		o, err := decision.NewHTTPOracle(cfg.OracleURL)
		if err != nil {
			return nil, fmt.Errorf("init oracle: %w", err)
		}
		oracle = o
	default:
		o, err := decision.NewExecOracle(cfg.OracleCmd)
		if err != nil {
			return nil, fmt.Errorf("init oracle: %w", err)
		}
		oracle = o
	}
	return decision.NewGate(oracle, decision.Config{Timeout: cfg.OracleTimeout}), nil
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Broker:            cfg.Broker,
		TopicCommand:      cfg.TopicCommand,
		TopicSensor:       cfg.TopicSensor,
		Encoding:          cfg.Encoding,
		Oracle:            cfg.Oracle,
		DefaultDurationMs: cfg.DefaultDuration.Milliseconds(),
		HeartbeatMs:       cfg.Heartbeat.Milliseconds(),
		HTTPAddr:          cfg.HTTPAddr,
	}
}

func run(cfg config.Config) error {
	var a *app

	// The callbacks only fire after Connect, which starts once a is set.
	channel := mqtt.NewRealChannel(mqtt.Options{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
		Topics: mqtt.Topics{
			Command: cfg.TopicCommand,
			Sensor:  cfg.TopicSensor,
			Status:  cfg.TopicStatus,
		},
		OnReconnect:        func() { a.ctrl.NotifyReconnect() },
		OnConnectionChange: func(up bool) { a.ctrl.SetConnected(up) },
	})
	defer channel.Close()

	a, err := newApp(cfg, channel, time.Now)
	if err != nil {
		return err
	}
	defer a.bcast.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			log.Printf("received %v, shutting down", s)
			cancel(errors.New(signalName(s)))
		case <-ctx.Done():
		}
	}()

	go func() {
		if err := channel.Connect(ctx); err != nil && ctx.Err() == nil {
			log.Printf("mqtt: %v", err)
		}
	}()

	if cfg.IndicatorPin >= 0 {
		ind, err := gpio.NewRealIndicator(cfg.IndicatorPin)
		if err != nil {
			log.Printf("gpio: indicator disabled: %v", err)
		} else {
			defer ind.Close()
			go controller.FollowPump(a.bcast.Subscribe(), ind)
			log.Printf("gpio: indicator on line %d", cfg.IndicatorPin)
		}
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, web.Deps{
			Controller:  a.ctrl,
			Tracker:     a.tracker,
			Broadcaster: a.bcast,
			Metrics:     a.metrics.Handler(),
			CORSOrigins: cfg.CORSOrigins,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		log.Printf("http server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: broker=%s encoding=%s oracle=%s ai=%v default=%v heartbeat=%v",
		cfg.Broker, cfg.Encoding, cfg.Oracle, cfg.AIEnabled, cfg.DefaultDuration, cfg.Heartbeat)

	return a.ctrl.Run(ctx)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
