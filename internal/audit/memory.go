package audit

import (
	"context"
	"sync"

	id "dukcapil/pkg/domain"
)

// Memory keeps events in process, for tests and local runs.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything written so far.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

// ForApplication returns the events of one application in write order.
func (m *Memory) ForApplication(appID id.ApplicationID) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.ApplicationID == appID {
			out = append(out, e)
		}
	}
	return out
}
