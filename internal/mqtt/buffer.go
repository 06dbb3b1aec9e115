package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO holding messages while disconnected.
// Not safe for concurrent use; the caller synchronizes.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // messages lost since last drain
	logger  logrus.FieldLogger
}

func newRingBuffer(capacity int, logger logrus.FieldLogger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:    make([]bufferedMsg, capacity),
		logger: logger,
	}
}

// push appends msg, overwriting the oldest message when full.
func (r *ringBuffer) push(msg bufferedMsg) {
	size := len(r.buf)
	r.buf[r.head] = msg
	r.head = (r.head + 1) % size
	if r.count < size {
		r.count++
		return
	}
	if r.dropped == 0 {
		r.logger.Warnf("mqtt: buffer full (%d messages), dropping oldest", size)
	}
	r.dropped++
}

// drainAll returns the buffered messages oldest first and empties the ring.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	size := len(r.buf)
	start := (r.head - r.count + size) % size
	out := make([]bufferedMsg, r.count)
	for i := range out {
		out[i] = r.buf[(start+i)%size]
	}

	if r.dropped > 0 {
		r.logger.Warnf("mqtt: %d buffered messages were dropped while offline", r.dropped)
	}
	r.head, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
