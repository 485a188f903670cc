//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealIndicator drives an output line on actual hardware.
type RealIndicator struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
}

// NewRealIndicator requests pin (BCM numbering) on DefaultChip as an output, initially low.
func NewRealIndicator(pin int) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip(DefaultChip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request indicator pin %d: %w", pin, err)
	}

	return &RealIndicator{chip: chip, line: line, pin: pin}, nil
}

// Set drives the line.
func (r *RealIndicator) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set indicator pin %d: %w", r.pin, err)
	}
	return nil
}

// Close drives the line low, then returns it to an input with pull-down
// (the Pi boot default) before releasing it.
func (r *RealIndicator) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear indicator pin: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure indicator pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
