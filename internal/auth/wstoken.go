package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// WSTokenStore manages WebSocket CSRF tokens.
// Browsers cannot set headers on a WebSocket handshake, so an
// authenticated client first fetches a token and passes it as a query
// parameter. Tokens are one-time use and expire after a short TTL.
type WSTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*wsTokenEntry
	now    func() time.Time
}

type wsTokenEntry struct {
	subject   string
	createdAt time.Time
}

const (
	// WSTokenTTL is how long a token is valid
	WSTokenTTL = 30 * time.Second
	// WSTokenLength is the byte length of the token (will be hex encoded to 2x)
	WSTokenLength = 32
)

// NewWSTokenStore creates a new WebSocket token store
func NewWSTokenStore() *WSTokenStore {
	return &WSTokenStore{
		tokens: make(map[string]*wsTokenEntry),
		now:    time.Now,
	}
}

// Generate creates a new one-time token for a subject
func (s *WSTokenStore) Generate(subject string) (string, error) {
	bytes := make([]byte, WSTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(bytes)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cleanup(now)
	s.tokens[token] = &wsTokenEntry{
		subject:   subject,
		createdAt: now,
	}

	return token, nil
}

// Validate checks if a token is valid and consumes it (one-time use).
// Returns the subject associated with the token.
func (s *WSTokenStore) Validate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tokens[token]
	if !exists {
		return "", false
	}

	// Delete token immediately (one-time use)
	delete(s.tokens, token)

	// Check if expired
	if s.now().Sub(entry.createdAt) > WSTokenTTL {
		return "", false
	}

	return entry.subject, true
}

// Len returns the number of outstanding tokens
func (s *WSTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// cleanup removes all expired tokens
func (s *WSTokenStore) cleanup(now time.Time) {
	for token, entry := range s.tokens {
		if now.Sub(entry.createdAt) > WSTokenTTL {
			delete(s.tokens, token)
		}
	}
}
