//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const chipName = "gpiochip0"

// RealRelay drives the heater relay on actual hardware.
type RealRelay struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealRelay requests pin as an output, initially low.
func NewRealRelay(pin int) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{chip: chip, line: line}, nil
}

// Set drives the relay line.
func (r *RealRelay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set relay pin: %w", err)
	}
	return nil
}

// Close drives the relay low, then returns the pin to an input with
// pull-down (the Pi boot default) so the heater stays off after exit.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive relay low: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RealButtons reads the start and stop buttons on actual hardware.
type RealButtons struct {
	chip  *gpiocdev.Chip
	start *gpiocdev.Line
	stop  *gpiocdev.Line
}

// NewRealButtons requests both pins as inputs with pull-up.
func NewRealButtons(pinStart, pinStop int) (*RealButtons, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	start, err := chip.RequestLine(pinStart, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request start pin %d: %w", pinStart, err)
	}

	stop, err := chip.RequestLine(pinStop, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		start.Close()
		chip.Close()
		return nil, fmt.Errorf("request stop pin %d: %w", pinStop, err)
	}

	return &RealButtons{chip: chip, start: start, stop: stop}, nil
}

// Read returns the pressed state of both buttons.
func (b *RealButtons) Read() (bool, bool, error) {
	startRaw, err := b.start.Value()
	if err != nil {
		return false, false, fmt.Errorf("read start pin: %w", err)
	}

	stopRaw, err := b.stop.Value()
	if err != nil {
		return false, false, fmt.Errorf("read stop pin: %w", err)
	}

	// Active low: the button shorts the pulled-up line to ground.
	return startRaw == 0, stopRaw == 0, nil
}

// Close releases GPIO resources.
func (b *RealButtons) Close() error {
	var errs []error

	for name, line := range map[string]*gpiocdev.Line{"start": b.start, "stop": b.stop} {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
