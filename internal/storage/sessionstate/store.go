package sessionstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

const defaultSessionFile = "./session.json"

// Store persists the signed-in identity and the last displayed balance so
// restarts can show a value before the first reconciliation finishes.
type Store struct {
	path string
	mu   sync.Mutex
}

func getSessionFile(path string) string {
	if env := os.Getenv("WALLETSYNC_SESSION_FILE"); env != "" {
		return env
	}
	if path != "" {
		return path
	}
	return defaultSessionFile
}

// NewStore creates a session store backed by a JSON file.
func NewStore(path string) (*Store, error) {
	path = getSessionFile(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}
	return &Store{path: path}, nil
}

// State represents all persisted session data.
type State struct {
	Identity      *domain.Identity `json:"identity,omitempty"`
	CachedBalance string           `json:"cached_balance,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Load reads session state from disk. A missing file yields an empty state.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// CurrentIdentity returns the signed-in user, if any.
func (s *Store) CurrentIdentity() (domain.Identity, bool, error) {
	state, err := s.Load()
	if err != nil {
		return domain.Identity{}, false, err
	}
	if state.Identity == nil || state.Identity.Email == "" {
		return domain.Identity{}, false, nil
	}
	return *state.Identity, true, nil
}

// SignIn records the identity.
func (s *Store) SignIn(id domain.Identity) error {
	return s.mutate(func(state *State) {
		state.Identity = &id
	})
}

// SignOut forgets the identity. The cached balance is kept.
func (s *Store) SignOut() error {
	return s.mutate(func(state *State) {
		state.Identity = nil
	})
}

// CachedBalance returns the last displayed balance, if one was stored.
func (s *Store) CachedBalance() (decimal.Decimal, bool) {
	state, err := s.Load()
	if err != nil || state.CachedBalance == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(state.CachedBalance)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// StoreBalance caches the displayed balance.
func (s *Store) StoreBalance(v decimal.Decimal) error {
	return s.mutate(func(state *State) {
		state.CachedBalance = v.String()
	})
}

func (s *Store) mutate(fn func(state *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(&state)
	state.UpdatedAt = time.Now().UTC()
	return s.saveLocked(state)
}

func (s *Store) loadLocked() (State, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}

		return State{}, errors.Wrap(err, "read session state")
	}

	if len(payload) == 0 {
		return State{}, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, errors.Wrap(err, "decode session state")
	}

	return state, nil
}

// saveLocked writes state to disk atomically via temp file.
func (s *Store) saveLocked(state State) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write session state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist session state")
	}

	return nil
}
