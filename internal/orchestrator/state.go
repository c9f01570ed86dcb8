// Package orchestrator coordinates discovery, scheduling, agent lifecycle,
// budget accounting, and crash recovery.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/pkg/models"
)

// Store persists the runner state as a JSON document. Save serializes
// concurrent callers and swaps the file atomically via temp + rename, so
// completion goroutines and loop-tick persists never tear the file.
type Store struct {
	path string
	log  *logger.Logger

	mu sync.Mutex
}

// NewStore creates a Store writing to the given path.
func NewStore(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log.Named("state")}
}

// DefaultPath returns $STATE_PATH, or ./state/runner-state.json.
func DefaultPath() string {
	if p := os.Getenv("STATE_PATH"); p != "" {
		return p
	}
	return filepath.Join("state", "runner-state.json")
}

// Load reads the persisted state. A missing or unreadable file yields fresh
// defaults; corruption is logged, never fatal.
func (s *Store) Load(now time.Time) *models.RunnerState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state file unreadable, starting fresh", zap.Error(err))
		}
		return models.NewRunnerState(now)
	}

	state := models.NewRunnerState(now)
	if err := json.Unmarshal(data, state); err != nil {
		s.log.Warn("state file corrupt, starting fresh", zap.Error(err))
		return models.NewRunnerState(now)
	}
	if state.ActiveAgents == nil {
		state.ActiveAgents = make(map[string]*models.ActiveAgent)
	}
	return state
}

// Save writes the state atomically.
func (s *Store) Save(state *models.RunnerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}
