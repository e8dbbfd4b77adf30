package balancesnapshots

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

const (
	defaultSnapshotDir   = "./wal/balance"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 100
	snapshotKeyPrefix    = "balance_view_"
)

// WALStore persists rendered balance views in a WAL for streaming to the dashboard.
type WALStore struct {
	wal    *gowal.Wal
	logger *zap.Logger
	mu     sync.RWMutex
	latest map[string]domain.BalanceViewRecord
}

// NewWALStore initializes a WAL-backed view store under the provided directory.
func NewWALStore(dir string, logger *zap.Logger) (*WALStore, error) {
	if dir == "" {
		dir = defaultSnapshotDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init balance view WAL")
	}

	return &WALStore{wal: wal, logger: logger, latest: make(map[string]domain.BalanceViewRecord)}, nil
}

// Render implements the balance machine's render callback by persisting the view.
func (s *WALStore) Render(view domain.BalanceView) {
	if err := s.Save(view); err != nil {
		s.logger.Error("failed to persist balance view", zap.String("email", view.Email), zap.Error(err))
	}
}

// Save writes the view to WAL. Callers must ensure view.Email is set.
func (s *WALStore) Save(view domain.BalanceView) error {
	if s == nil || s.wal == nil {
		return errors.New("balance view store is not initialized")
	}
	if view.Email == "" {
		return fmt.Errorf("balance view email is required")
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return errors.Wrap(err, "marshal balance view")
	}

	key := fmt.Sprintf("%s%s", snapshotKeyPrefix, view.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return err
	}
	s.latest[view.Email] = domain.BalanceViewRecord{Index: nextIndex, View: view}
	return nil
}

// Latest returns the last view rendered for email in this process.
func (s *WALStore) Latest(email string) (domain.BalanceViewRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.latest[email]
	return rec, ok
}

// ViewsAfter returns the views for email written after the provided WAL index.
// An empty email matches every user.
func (s *WALStore) ViewsAfter(email string, index uint64) ([]domain.BalanceViewRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("balance view store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.BalanceViewRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}
		if email != "" && key != snapshotKeyPrefix+email {
			continue
		}
		var view domain.BalanceView
		if err := json.Unmarshal(payload, &view); err != nil {
			return nil, errors.Wrap(err, "decode balance view")
		}
		records = append(records, domain.BalanceViewRecord{
			Index: idx,
			View:  view,
		})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("balance view store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
