// Package adc reads raw thermistor counts from an analog front-end.
// The real implementation reads an MCU streaming counts over a serial port.
// The fake implementation allows testing without hardware.
package adc

import "errors"

var (
	// ErrNoSample is returned until the first reading has arrived.
	ErrNoSample = errors.New("adc: no sample yet")

	// ErrClosed is returned once the device has stopped delivering
	// readings, e.g. after EOF or a port error.
	ErrClosed = errors.New("adc: reader stopped")
)

// Reader returns the most recent raw ADC count.
type Reader interface {
	// Read must not block; it returns the latest count seen.
	Read() (int, error)

	// Close releases the underlying device.
	Close() error
}

// DefaultBaudRate matches the front-end firmware.
const DefaultBaudRate = 115200
