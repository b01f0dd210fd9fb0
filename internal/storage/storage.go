package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("key not found")
)

// SessionSettings are the MQTT settings saved through the status API.
// Empty fields leave the built-in default in place.
type SessionSettings struct {
	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Prefix   string `json:"topicPrefix,omitempty"`
	UseTLS   *bool  `json:"useTLS,omitempty"`
}

// HistoryEntry is a persisted device event
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Storage is the interface for the device's non-volatile state
type Storage interface {
	// Session Override Methods

	// GetSession returns the saved MQTT overrides
	// Returns ErrNotFound if nothing was saved yet
	GetSession() (*SessionSettings, error)

	// SetSession replaces the saved MQTT overrides
	SetSession(s *SessionSettings) error

	// Namespaced Data Methods

	// Get retrieves data by namespace and key
	// Returns ErrNotFound if the key doesn't exist
	Get(namespace, key string) ([]byte, error)

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(namespace, key string, v interface{}) error

	// Set stores data by namespace and key
	Set(namespace, key string, value []byte) error

	// SetJSON marshals and stores JSON data
	SetJSON(namespace, key string, v interface{}) error

	// Delete removes data by namespace and key
	Delete(namespace, key string) error

	// DeleteAll removes a whole namespace
	DeleteAll(namespace string) error

	// Event History Methods

	// AppendHistory saves an event
	AppendHistory(entry HistoryEntry) error

	// History returns up to limit entries, oldest first
	History(limit int) ([]HistoryEntry, error)

	// TrimHistory keeps only the last max entries
	TrimHistory(max int) error

	// Lifecycle Methods

	// SizeBytes returns the size of the backing file
	SizeBytes() int64

	// Close closes the storage
	Close() error
}
