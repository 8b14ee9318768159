package nats

import (
	"context"
	"sync"
)

// MockPublisher records events in memory. Safe for concurrent use.
type MockPublisher struct {
	mu     sync.RWMutex
	events []*SubmissionEvent
	err    error
	closed bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishSubmission(ctx context.Context, event *SubmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// GetPublishedEvents returns a copy of everything published so far.
func (m *MockPublisher) GetPublishedEvents() []*SubmissionEvent {
	return m.filter(func(*SubmissionEvent) bool { return true })
}

func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *MockPublisher) GetPublishedEventsForAction(action string) []*SubmissionEvent {
	return m.filter(func(e *SubmissionEvent) bool { return e.Action == action })
}

// SetPublishError makes every later PublishSubmission fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockPublisher) Reset() {
	m.mu.Lock()
	m.events, m.err, m.closed = nil, nil, false
	m.mu.Unlock()
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MockPublisher) filter(keep func(*SubmissionEvent) bool) []*SubmissionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SubmissionEvent, 0, len(m.events))
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
