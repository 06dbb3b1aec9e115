// Package gpio drives the heater relay and reads the front-panel buttons.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay drives the solid-state relay feeding the heating elements.
type Relay interface {
	// Set energizes (true) or releases (false) the relay.
	Set(on bool) error

	// Close forces the relay off and releases GPIO resources.
	Close() error
}

// Buttons reads the momentary start and stop buttons.
type Buttons interface {
	// Read returns the logical pressed state of each button.
	// The buttons pull the line to ground: raw 0 = pressed.
	Read() (start, stop bool, err error)

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinRelay = 23
	PinStart = 24
	PinStop  = 25
)
