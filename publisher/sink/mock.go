package sink

import (
	"errors"
	"sync"

	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/publisher"
)

var _ publisher.Sink = (*RecordingSink)(nil)

func init() {
	// "mock" sinks keep announcements in memory; used for dry runs
	publisher.RegisterSink("mock", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return &RecordingSink{}, nil
	})
}

// Announcement is one event received by a RecordingSink
type Announcement struct {
	Topic   string
	Key     string
	Payload []byte
}

// RecordingSink stores every announcement it receives. FailNext makes the
// next n publishes fail, to exercise retries.
type RecordingSink struct {
	mu       sync.Mutex
	received []Announcement
	failNext int
	closed   bool
}

var errInjected = errors.New("recording sink: injected failure")

// FailNext makes the next n publishes fail
func (s *RecordingSink) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *RecordingSink) Publish(topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("recording sink: closed")
	}
	if s.failNext > 0 {
		s.failNext--
		return errInjected
	}
	payload := make([]byte, len(value))
	copy(payload, value)
	s.received = append(s.received, Announcement{Topic: topic, Key: key, Payload: payload})
	return nil
}

// Received returns a copy of the announcements so far
func (s *RecordingSink) Received() []Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Announcement(nil), s.received...)
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
