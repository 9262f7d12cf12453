package policy

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// Store reads and writes per-agent tools.json files with an in-memory cache.
// The cache is invalidated by an fsnotify watcher so external edits to a
// tools.json take effect without a restart.
type Store struct {
	mu      sync.RWMutex
	root    string // agents root
	cache   map[string]Policy
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a policy store rooted at agentsRoot. The watcher is
// optional; when fsnotify cannot start the store still works, just without
// external-edit invalidation.
func NewStore(agentsRoot string) *Store {
	s := &Store{
		root:  agentsRoot,
		cache: make(map[string]Policy),
		done:  make(chan struct{}),
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("policy: fsnotify unavailable, cache invalidation disabled", "error", err)
		return s
	}
	s.watcher = w
	go s.watch()
	return s
}

// Close stops the watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// UpdateRoot repoints the store and drops the cache.
func (s *Store) UpdateRoot(root string) {
	s.mu.Lock()
	s.root = root
	s.cache = make(map[string]Policy)
	s.mu.Unlock()
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "tools.json" {
				continue
			}
			agentID := filepath.Base(filepath.Dir(filepath.Dir(ev.Name)))
			s.mu.Lock()
			delete(s.cache, agentID)
			s.mu.Unlock()
			slog.Debug("policy: cache invalidated", "agent", agentID, "op", ev.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("policy: watcher error", "error", err)
		}
	}
}

func (s *Store) path(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filepath.Join(s.root, agentID, "tools", "tools.json")
}

// Load returns the agent's policy. A missing file yields the default policy,
// which is written back so subsequent external edits have a starting point.
func (s *Store) Load(agentID string) (Policy, error) {
	s.mu.RLock()
	if p, ok := s.cache[agentID]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	path := s.path(agentID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Policy{}, faults.Wrap(faults.StorageFailure, err)
		}
		if _, serr := os.Stat(filepath.Dir(filepath.Dir(path))); serr != nil {
			return Policy{}, faults.New(faults.AgentNotFound, "agent %q not found", agentID)
		}
		p := Default()
		if werr := s.Save(agentID, p); werr != nil {
			slog.Warn("policy: could not write default policy", "agent", agentID, "error", werr)
		}
		return p, nil
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, faults.New(faults.InvalidPayload, "malformed tools.json for %q: %v", agentID, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}

	s.mu.Lock()
	s.cache[agentID] = p
	s.mu.Unlock()
	if s.watcher != nil {
		if err := s.watcher.Add(filepath.Dir(path)); err != nil {
			slog.Debug("policy: cannot watch tools dir", "agent", agentID, "error", err)
		}
	}
	return p, nil
}

// Save validates and persists a policy, then refreshes the cache.
func (s *Store) Save(agentID string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	path := s.path(agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return faults.Wrap(faults.StorageFailure, err)
	}
	s.mu.Lock()
	s.cache[agentID] = p
	s.mu.Unlock()
	return nil
}

// WriteDefault scaffolds the default tools.json inside an agent directory.
// Used by the agent catalog during creation, before any Store exists for
// the agent.
func WriteDefault(agentDir string) error {
	dir := filepath.Join(agentDir, "tools")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "tools.json"), append(data, '\n'), 0o644)
}
