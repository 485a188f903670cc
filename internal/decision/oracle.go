package decision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// waitDelay bounds how long a killed oracle may hold its output pipes open.
const waitDelay = 500 * time.Millisecond

// ExecOracle runs an external program with the three readings appended as
// positional arguments and returns its standard output.
type ExecOracle struct {
	Path string
	Args []string
}

// NewExecOracle splits a command line such as "python3 AI_service.py".
func NewExecOracle(cmdline string) (*ExecOracle, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("decision: empty oracle command")
	}
	return &ExecOracle{Path: fields[0], Args: fields[1:]}, nil
}

// Ask runs the program. A non-zero exit is an error.
func (o *ExecOracle) Ask(ctx context.Context, temp, hum, soil float64) ([]byte, error) {
	args := append(append([]string(nil), o.Args...), formatFloat(temp), formatFloat(hum), formatFloat(soil))
	cmd := exec.CommandContext(ctx, o.Path, args...)
	cmd.WaitDelay = waitDelay

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("oracle exited with status %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("run oracle: %w", err)
	}
	return out, nil
}

// HTTPOracle posts the readings as JSON to a decision service.
type HTTPOracle struct {
	client *resty.Client
	url    string
}

// Request is the body sent to an HTTP oracle.
type Request struct {
	Temp float64 `json:"temp"`
	Hum  float64 `json:"hum"`
	Soil float64 `json:"soil"`
}

// NewHTTPOracle creates an oracle that POSTs to url.
func NewHTTPOracle(url string) (*HTTPOracle, error) {
	if url == "" {
		return nil, errors.New("decision: empty oracle url")
	}
	return &HTTPOracle{client: resty.New(), url: url}, nil
}

// Ask posts the readings and returns the response body. A 4xx or 5xx status is an error.
func (o *HTTPOracle) Ask(ctx context.Context, temp, hum, soil float64) ([]byte, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(Request{Temp: temp, Hum: hum, Soil: soil}).
		Post(o.url)
	if err != nil {
		return nil, fmt.Errorf("post oracle: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle responded %s", resp.Status())
	}
	return resp.Body(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
