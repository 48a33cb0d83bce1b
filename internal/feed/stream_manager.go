package feed

import (
	"fmt"
	"sync"
)

const consumerBuffer = 100

// StreamManager manages consumer connections and broadcasts release events
type StreamManager struct {
	streams map[string]chan *Event
	mu      sync.RWMutex
}

// NewStreamManager creates a new StreamManager
func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[string]chan *Event),
	}
}

// Register registers a consumer and returns a channel for receiving events.
// A consumer that registers again replaces its previous stream.
func (sm *StreamManager) Register(consumerID string) chan *Event {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, exists := sm.streams[consumerID]; exists {
		close(old)
	}

	ch := make(chan *Event, consumerBuffer)
	sm.streams[consumerID] = ch
	return ch
}

// Unregister removes a consumer, but only while ch is still its stream
func (sm *StreamManager) Unregister(consumerID string, ch chan *Event) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if current, exists := sm.streams[consumerID]; exists && current == ch {
		close(ch)
		delete(sm.streams, consumerID)
	}
}

// Broadcast sends an event to all registered consumers without blocking.
// Consumers whose buffer is full miss the event and are reported in the
// returned error.
func (sm *StreamManager) Broadcast(event *Event) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var dropped []string
	for consumerID, ch := range sm.streams {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, consumerID)
		}
	}

	if len(dropped) > 0 {
		return fmt.Errorf("event dropped for %d consumers: %v", len(dropped), dropped)
	}
	return nil
}

// ActiveConsumerCount returns the number of active consumers
func (sm *StreamManager) ActiveConsumerCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.streams)
}

// ConsumerIDs returns all registered consumer IDs
func (sm *StreamManager) ConsumerIDs() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.streams))
	for id := range sm.streams {
		ids = append(ids, id)
	}
	return ids
}
