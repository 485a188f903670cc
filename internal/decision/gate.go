// Package decision consults an external oracle that recommends whether to water.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
)

// ErrDecisionUnavailable wraps every oracle failure: timeout, non-zero exit,
// transport error, malformed output or an open circuit breaker.
var ErrDecisionUnavailable = errors.New("decision unavailable")

// DefaultTimeout bounds each oracle call.
const DefaultTimeout = 5 * time.Second

// defaultReason is used when the oracle omits a reason.
const defaultReason = "AI Model Decision"

// Oracle returns the raw response for (temperature, humidity, soil moisture).
// Implementations must honor ctx cancellation.
type Oracle interface {
	Ask(ctx context.Context, temp, hum, soil float64) ([]byte, error)
}

// Response is the oracle's structured answer.
type Response struct {
	Action *int   `json:"action"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Config tunes the gate.
type Config struct {
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker (0 = 3).
	BreakerFailures uint32

	// BreakerOpen is how long the breaker stays open before a trial call (0 = 30s).
	BreakerOpen time.Duration
}

// Gate invokes the oracle under a hard timeout and interprets its verdict.
// It holds no decision state and is safe for concurrent use.
type Gate struct {
	oracle  Oracle
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewGate wraps oracle with a timeout and a circuit breaker.
func NewGate(oracle Oracle, cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}
	fails := cfg.BreakerFailures

	return &Gate{
		oracle:  oracle,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "decision-oracle",
			Timeout: cfg.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
	}
}

// Decide asks the oracle about r. Any failure is returned wrapped in
// ErrDecisionUnavailable; callers treat it as an implicit no-op.
func (g *Gate) Decide(ctx context.Context, r sensors.Reading) (logic.Verdict, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		out, err := g.oracle.Ask(cctx, r.Temp, r.Hum, r.SoilMoisture)
		if err != nil {
			if cctx.Err() != nil {
				return nil, fmt.Errorf("oracle timed out after %v: %w", g.timeout, cctx.Err())
			}
			return nil, err
		}
		return ParseResponse(out)
	})
	if err != nil {
		return logic.Verdict{}, fmt.Errorf("%w: %w", ErrDecisionUnavailable, err)
	}
	return res.(logic.Verdict), nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (g *Gate) BreakerState() string {
	return g.breaker.State().String()
}

// ParseResponse validates the oracle output. It must be a JSON object with an
// integer action of 0 (no-op) or 1 (start).
func ParseResponse(out []byte) (logic.Verdict, error) {
	var resp Response
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(string(out))))
	if err := dec.Decode(&resp); err != nil {
		return logic.Verdict{}, fmt.Errorf("malformed oracle output: %w", err)
	}
	if dec.More() {
		return logic.Verdict{}, errors.New("malformed oracle output: trailing data")
	}
	if resp.Action == nil {
		return logic.Verdict{}, errors.New("malformed oracle output: missing action")
	}

	var action logic.Action
	switch *resp.Action {
	case 0:
		action = logic.ActionNoOp
	case 1:
		action = logic.ActionStart
	default:
		return logic.Verdict{}, fmt.Errorf("malformed oracle output: action %d", *resp.Action)
	}

	reason := resp.Reason
	if reason == "" && resp.Error != "" {
		reason = "oracle error: " + resp.Error
	}
	if reason == "" {
		reason = defaultReason
	}
	return logic.Verdict{Action: action, Reason: reason}, nil
}
