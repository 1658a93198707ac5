package comm

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid"
)

// ulidSource is a mutex-guarded monotonic entropy reader so session tokens
// minted in rapid succession within the same millisecond still sort in
// creation order, matching rusty_ulid's default monotonic behavior.
type ulidSource struct {
	mu   sync.Mutex
	mono *ulid.MonotonicEntropy
}

func newULIDSource() *ulidSource {
	return &ulidSource{mono: ulid.Monotonic(rand.Reader, 0)}
}

func (s *ulidSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mono.Read(p)
}
