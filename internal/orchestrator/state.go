package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// runState is the in-memory state of one active run, keyed by channel id.
// The interruption flag is read from chunk callbacks while ControlSession
// may set it from another goroutine, so it is atomic; the streaming buffer
// is only touched from the run itself.
type runState struct {
	interrupted atomic.Bool

	mu           sync.Mutex
	buffer       string
	persisted    bool
	persistedLen int
	lastPersist  time.Time
}

func (s *runState) reset() {
	s.interrupted.Store(false)
	s.mu.Lock()
	s.buffer = ""
	s.persisted = false
	s.persistedLen = 0
	s.lastPersist = time.Time{}
	s.mu.Unlock()
}

// store records the latest cumulative text and decides whether a progress
// event is due: on the first chunk, after minChars of new text, or after
// minInterval since the last persist.
func (s *runState) store(partial string, minChars int, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = partial
	now := time.Now()
	due := !s.persisted ||
		len(partial)-s.persistedLen >= minChars ||
		now.Sub(s.lastPersist) >= minInterval
	if due {
		s.persisted = true
		s.persistedLen = len(partial)
		s.lastPersist = now
	}
	return due
}

func (s *runState) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}
