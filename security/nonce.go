package security

import ("crypto/rand"
	"fmt"
	"sync"
	"time")

// NonceTableSize and NonceTTL bound the generated-nonce cache (// "8-slot table, 10 second lifetime, silent eviction").
const (NonceTableSize = 8
	NonceTTL = 10 * time.Second)

type nonceEntry struct {
	id byte
	value [8]byte
	expires time.Time
}

// NonceStore holds the nonces this driver has generated in response to a
// NonceGet, indexed by the one-byte nonce id carried in the first byte of
// the value. Entries older than NonceTTL are treated as
// absent and are evicted silently, never surfaced as an error to the peer.
type NonceStore struct {
	mu sync.Mutex
	entries []nonceEntry
}

// NewNonceStore() creates an empty nonce table.
func NewNonceStore() *NonceStore {
	return &NonceStore{entries: make([]nonceEntry, 0, NonceTableSize)}
}

// Generate() creates a fresh random 8-byte nonce, stores it keyed by its first
// byte, and returns it. If the table is full the oldest entry is evicted to
// make room (FIFO-over-capacity, not LRU).
func (s *NonceStore) Generate() ([8]byte, error) {
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("security: generate nonce: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	if len(s.entries) >= NonceTableSize {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, nonceEntry{id: nonce[0], value: nonce, expires: time.Now().Add(NonceTTL)})
	return nonce, nil
}

// Take looks up and removes the nonce with the given id. A nonce is
// single-use: once consumed by a NonceReport-triggered decrypt, it cannot be
// replayed. Returns ok=false if the id is unknown or has expired.
func (s *NonceStore) Take(id byte) (nonce [8]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return e.value, true
		}
	}
	return nonce, false
}

func (s *NonceStore) evictExpiredLocked() {
	now := time.Now()
	live := s.entries[:0]
	for _, e := range s.entries {
		if now.Before(e.expires) {
			live = append(live, e)
		}
	}
	s.entries = live
}
