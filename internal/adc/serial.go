package adc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialReader consumes newline-delimited ADC counts from a UART-attached
// front-end and serves the latest one without blocking.
//
// Accepted line formats:
//
//	2048
//	1234567890123,2048
//
// where the optional first field is the MCU timestamp in microseconds.
type SerialReader struct {
	conn     io.ReadCloser
	maxCount int
	logger   logrus.FieldLogger

	latest atomic.Int64 // -1 until the first valid line
	lines  atomic.Int64
	bad    atomic.Int64

	stopped atomic.Bool // set once readLines has returned

	closeOnce sync.Once
	done      chan struct{}
}

// NewSerialReader opens port at baud and starts reading counts in the
// background. Counts above maxCount are rejected.
func NewSerialReader(port string, baud, maxCount int, logger logrus.FieldLogger) (*SerialReader, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return newSerialReader(conn, maxCount, logger), nil
}

func newSerialReader(conn io.ReadCloser, maxCount int, logger logrus.FieldLogger) *SerialReader {
	r := &SerialReader{
		conn:     conn,
		maxCount: maxCount,
		logger:   logger,
		done:     make(chan struct{}),
	}
	r.latest.Store(-1)
	go r.readLines()
	return r
}

// Read returns the most recent count, ErrNoSample before the first one, or
// ErrClosed once the port has stopped delivering lines.
func (r *SerialReader) Read() (int, error) {
	if r.stopped.Load() {
		return 0, ErrClosed
	}
	v := r.latest.Load()
	if v < 0 {
		return 0, ErrNoSample
	}
	return int(v), nil
}

// Stats returns the number of accepted and rejected lines.
func (r *SerialReader) Stats() (lines, bad int64) {
	return r.lines.Load(), r.bad.Load()
}

// Close stops the reader and closes the port.
func (r *SerialReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
		<-r.done
	})
	return err
}

func (r *SerialReader) readLines() {
	defer close(r.done)
	defer r.stopped.Store(true)

	scanner := bufio.NewScanner(r.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		count, err := parseLine(line, r.maxCount)
		if err != nil {
			r.bad.Add(1)
			r.logger.WithField("line", line).Debugf("adc: skip line: %v", err)
			continue
		}
		r.lines.Add(1)
		r.latest.Store(int64(count))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.logger.Warnf("adc: serial read stopped: %v", err)
	}
}

// parseLine extracts the ADC count from one line of front-end output.
func parseLine(line string, maxCount int) (int, error) {
	parts := strings.Split(line, ",")
	var field string
	switch len(parts) {
	case 1:
		field = parts[0]
	case 2:
		if _, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64); err != nil {
			return 0, fmt.Errorf("invalid timestamp: %w", err)
		}
		field = parts[1]
	default:
		return 0, fmt.Errorf("invalid line format: expected 1 or 2 comma-separated values, got %d", len(parts))
	}

	count, err := strconv.ParseUint(strings.TrimSpace(field), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid reading: %w", err)
	}
	if maxCount > 0 && int(count) > maxCount {
		return 0, fmt.Errorf("reading out of range: %d (max %d)", count, maxCount)
	}
	return int(count), nil
}
