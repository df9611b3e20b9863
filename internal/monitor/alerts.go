package monitor

import (
	"log"
	"sync"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("🔔 ALERT %s", message)
	return nil
}

// MemorySink keeps the most recent alerts for the status API.
type MemorySink struct {
	mu     sync.Mutex
	max    int
	alerts []string
}

func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 50
	}
	return &MemorySink{max: max}
}

func (s *MemorySink) Send(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, message)
	if len(s.alerts) > s.max {
		s.alerts = s.alerts[len(s.alerts)-s.max:]
	}
	return nil
}

// Recent returns alerts oldest first.
func (s *MemorySink) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.alerts...)
}

// MultiSink fans an alert out to several sinks and returns the first error.
type MultiSink []AlertSink

func (m MultiSink) Send(message string) error {
	var first error
	for _, s := range m {
		if err := s.Send(message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
