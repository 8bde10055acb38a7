package session

import (
	"context"
	"sync"
)

// Keys under which the identifiers are kept in local storage.
const (
	KeyUserID    = "user_id"
	KeySessionID = "session_id"
)

// Store holds the current session's identifiers on this device.
type Store interface {
	// Get returns the stored session. ok is false when either key is missing.
	Get(ctx context.Context) (sess Session, ok bool, err error)

	// Set stores both identifiers, replacing any previous session.
	Set(ctx context.Context, sess Session) error

	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the stored session
func (m *MemoryStore) Get(ctx context.Context) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess := Session{UserID: m.values[KeyUserID], SessionID: m.values[KeySessionID]}
	if sess.UserID == "" || sess.SessionID == "" {
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Set stores the session
func (m *MemoryStore) Set(ctx context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[KeyUserID] = sess.UserID
	m.values[KeySessionID] = sess.SessionID
	return nil
}

// Clear removes the session
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, KeyUserID)
	delete(m.values, KeySessionID)
	return nil
}
