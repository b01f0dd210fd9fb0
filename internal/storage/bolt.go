package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// sessionBucket stores MQTT overrides saved through the status API
	sessionBucket = "_session"

	// dataBucket stores namespaced component data (calibration blob, discovery flags)
	dataBucket = "_data"

	// historyBucket stores device events
	historyBucket = "_history"

	sessionKey = "mqtt"
)

// BoltStorage is a bbolt implementation of the Storage interface
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage creates a new BoltStorage instance
// The database file will be created if it doesn't exist
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{sessionBucket, dataBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// GetSession returns the saved MQTT overrides
func (s *BoltStorage) GetSession() (*SessionSettings, error) {
	var settings *SessionSettings
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("session bucket not found")
		}

		data := bucket.Get([]byte(sessionKey))
		if data == nil {
			return ErrNotFound
		}

		settings = &SessionSettings{}
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to unmarshal session settings: %w", err)
		}
		return nil
	})

	return settings, err
}

// SetSession replaces the saved MQTT overrides
func (s *BoltStorage) SetSession(settings *SessionSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal session settings: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("session bucket not found")
		}
		return bucket.Put([]byte(sessionKey), data)
	})
}

// Get retrieves data by namespace and key
func (s *BoltStorage) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket := bucket.Bucket([]byte(namespace))
		if nsBucket == nil {
			return ErrNotFound
		}

		data := nsBucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		// bbolt memory is only valid inside the transaction
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})

	return value, err
}

// GetJSON retrieves and unmarshals JSON data
func (s *BoltStorage) GetJSON(namespace, key string, v interface{}) error {
	data, err := s.Get(namespace, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// Set stores data by namespace and key
func (s *BoltStorage) Set(namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket, err := bucket.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("failed to create namespace bucket: %w", err)
		}

		return nsBucket.Put([]byte(key), value)
	})
}

// SetJSON marshals and stores JSON data
func (s *BoltStorage) SetJSON(namespace, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return s.Set(namespace, key, data)
}

// Delete removes data by namespace and key
func (s *BoltStorage) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket := bucket.Bucket([]byte(namespace))
		if nsBucket == nil {
			return ErrNotFound
		}

		return nsBucket.Delete([]byte(key))
	})
}

// DeleteAll removes a whole namespace
func (s *BoltStorage) DeleteAll(namespace string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		if bucket.Bucket([]byte(namespace)) == nil {
			return nil
		}
		return bucket.DeleteBucket([]byte(namespace))
	})
}

// AppendHistory saves an event
func (s *BoltStorage) AppendHistory(entry HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("history bucket not found")
		}

		// NextSequence keeps keys ordered even when timestamps collide
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate history key: %w", err)
		}

		key := []byte(fmt.Sprintf("%020d", seq))
		return bucket.Put(key, data)
	})
}

// History returns up to limit entries, oldest first
func (s *BoltStorage) History(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("history bucket not found")
		}

		// Walk backwards from the newest and reverse at the end
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip corrupted entries
			}
			entries = append(entries, entry)
		}

		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		return nil
	})

	return entries, err
}

// TrimHistory keeps only the last max entries
func (s *BoltStorage) TrimHistory(max int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("history bucket not found")
		}

		count := bucket.Stats().KeyN
		if count <= max {
			return nil
		}

		// Collect first, deleting while iterating skips keys
		toDelete := count - max
		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < toDelete; k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete old entry: %w", err)
			}
		}

		return nil
	})
}

// SizeBytes returns the size of the backing file
func (s *BoltStorage) SizeBytes() int64 {
	var size int64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
