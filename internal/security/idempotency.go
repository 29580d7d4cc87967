package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStore remembers responses to POST requests that carried an
// idempotency key, so a replayed request gets the first answer.
type IdempotencyStore struct {
	keys map[string]*IdempotencyEntry
	mu   sync.RWMutex
	ttl  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// IdempotencyEntry represents a stored idempotency key
type IdempotencyEntry struct {
	Key       string      `json:"key"`
	JobID     string      `json:"job_id,omitempty"`
	Status    int         `json:"status"`
	Response  interface{} `json:"response"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// NewIdempotencyStore creates a new idempotency store. Call Stop to end its
// cleanup loop.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	store := &IdempotencyStore{
		keys: make(map[string]*IdempotencyEntry),
		ttl:  ttl,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go store.cleanupLoop(5 * time.Minute)

	return store
}

// Check checks if an idempotency key exists and returns the cached response
func (s *IdempotencyStore) Check(key string) (*IdempotencyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.keys[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Store stores an idempotency key with its response
func (s *IdempotencyStore) Store(key, jobID string, status int, response interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.keys[key] = &IdempotencyEntry{
		Key:       key,
		JobID:     jobID,
		Status:    status,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

// Delete removes an idempotency key
func (s *IdempotencyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Stop ends the cleanup loop.
func (s *IdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *IdempotencyStore) cleanupLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *IdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.keys {
		if now.After(entry.ExpiresAt) {
			delete(s.keys, key)
		}
	}
}

// GenerateWebhookSignature generates HMAC signature for webhook payloads
func GenerateWebhookSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature verifies a webhook signature. A "sha256=" prefix is
// accepted.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	expected := GenerateWebhookSignature(payload, secret)
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return uuid.NewString()
}
