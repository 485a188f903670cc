// Package gpio drives a local output line that mirrors the pump state.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Indicator drives a single on/off output, typically an LED.
type Indicator interface {
	// Set drives the line high (on) or low (off).
	Set(on bool) error

	// Close turns the line off and releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"
