package events

import (
	"sync"
	"time"

	"airsense/internal/storage"
)

// EventType represents the type of device event
type EventType string

const (
	// Connectivity events
	EventNetworkUp   EventType = "network_up"
	EventNetworkDown EventType = "network_down"
	EventSessionUp   EventType = "session_up"
	EventSessionDown EventType = "session_down"

	// Inbound document events
	EventConfig  EventType = "config"
	EventCommand EventType = "command"

	// Device events
	EventButton      EventType = "button"
	EventRestart     EventType = "restart"
	EventCalibration EventType = "calibration_saved"
)

// Event represents a device event
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Persister keeps events across restarts
type Persister interface {
	AppendHistory(entry storage.HistoryEntry) error
	History(limit int) ([]storage.HistoryEntry, error)
	TrimHistory(max int) error
}

// Store holds events in memory with a fixed capacity (ring buffer)
type Store struct {
	mu        sync.RWMutex
	events    []Event
	maxSize   int
	nextID    int64
	persister Persister
}

// NewStore creates a new event store with specified max capacity
func NewStore(maxSize int) *Store {
	return &Store{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// WithPersister loads saved events into the buffer and writes every
// following event through to p. Persistence errors never block Add.
func (s *Store) WithPersister(p Persister) error {
	entries, err := p.History(s.maxSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.persister = p
	s.events = s.events[:0]
	for _, e := range entries {
		source, details := splitMessage(e.Message)
		s.events = append(s.events, Event{
			ID:        e.ID,
			Type:      EventType(e.Type),
			Timestamp: e.Timestamp,
			Source:    source,
			Details:   details,
		})
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
	}
	return nil
}

// Add adds a new event to the store
func (s *Store) Add(eventType EventType, source, details string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	event := Event{
		ID:        s.nextID,
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Details:   details,
	}

	// Ring buffer: remove oldest if at max capacity
	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)

	if s.persister != nil {
		if err := s.persister.AppendHistory(storage.HistoryEntry{
			ID:        event.ID,
			Type:      string(event.Type),
			Message:   joinMessage(source, details),
			Timestamp: event.Timestamp,
		}); err == nil && event.ID%int64(s.maxSize) == 0 {
			_ = s.persister.TrimHistory(s.maxSize)
		}
	}

	return event
}

// GetAll returns all events (newest first)
func (s *Store) GetAll() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Event, len(s.events))
	for i, e := range s.events {
		result[len(s.events)-1-i] = e
	}
	return result
}

// GetLast returns the last N events (newest first)
func (s *Store) GetLast(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.events) {
		n = len(s.events)
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = s.events[len(s.events)-1-i]
	}
	return result
}

// GetSince returns events newer than the given ID (newest first)
func (s *Store) GetSince(lastID int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID <= lastID {
			break
		}
		result = append(result, s.events[i])
	}
	return result
}

// Count returns the number of buffered events
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

func joinMessage(source, details string) string {
	return source + "|" + details
}

func splitMessage(msg string) (string, string) {
	for i := 0; i < len(msg); i++ {
		if msg[i] == '|' {
			return msg[:i], msg[i+1:]
		}
	}
	return "", msg
}
