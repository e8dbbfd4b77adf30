package records

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
)

const (
	defaultRecordDir   = "./wal/records"
	recordSegmentLimit = 1000
	recordMaxSegments  = 100
	recordKeyPrefix    = "user_"
)

var (
	ErrNotFound      = errors.New("user record not found")
	ErrAlreadyExists = errors.New("user record already exists")
	ErrClosed        = errors.New("user record store is closed")
)

// WALStore keeps user records in a WAL and serves reads from the replayed state.
// Every write is published to subscribers of the affected email.
type WALStore struct {
	wal         *gowal.Wal
	broadcaster *events.RecordBroadcaster

	mu     sync.RWMutex
	users  map[string]domain.UserRecord
	closed bool
	now    func() time.Time
}

// NewWALStore opens the record log under dir and replays it.
func NewWALStore(dir string, broadcaster *events.RecordBroadcaster) (*WALStore, error) {
	if dir == "" {
		dir = defaultRecordDir
	}
	if broadcaster == nil {
		broadcaster = events.NewRecordBroadcaster(0)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "records_",
		SegmentThreshold: recordSegmentLimit,
		MaxSegments:      recordMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init user record WAL")
	}

	s := &WALStore{
		wal:         wal,
		broadcaster: broadcaster,
		users:       make(map[string]domain.UserRecord),
		now:         time.Now,
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, recordKeyPrefix) {
			continue
		}
		var rec domain.UserRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			// a corrupt entry only loses that version of the record
			continue
		}
		s.users[normalizeEmail(rec.Email)] = rec
	}

	return s, nil
}

// ReadUser returns the record for email.
func (s *WALStore) ReadUser(ctx context.Context, email string) (domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[normalizeEmail(email)]
	if !ok {
		return domain.UserRecord{}, errors.Wrapf(ErrNotFound, "email %s", email)
	}
	return cloneRecord(rec), nil
}

// ReadUserBalance returns the administrator-set balance.
func (s *WALStore) ReadUserBalance(ctx context.Context, email string) (decimal.Decimal, error) {
	rec, err := s.ReadUser(ctx, email)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.StoredBalance(), nil
}

// ReadUserPortfolio returns the stored per-symbol amounts.
func (s *WALStore) ReadUserPortfolio(ctx context.Context, email string) (map[string]decimal.Decimal, error) {
	rec, err := s.ReadUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return rec.Amounts(), nil
}

// ListUsers returns all records, newest first.
func (s *WALStore) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.UserRecord, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// InsertUser creates a new record. ID, status and timestamps are filled when empty.
func (s *WALStore) InsertUser(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserRecord{}, err
	}
	key := normalizeEmail(rec.Email)
	if key == "" {
		return domain.UserRecord{}, errors.New("email is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.UserRecord{}, ErrClosed
	}
	if _, ok := s.users[key]; ok {
		s.mu.Unlock()
		return domain.UserRecord{}, errors.Wrapf(ErrAlreadyExists, "email %s", rec.Email)
	}

	now := s.now().UTC()
	rec.Email = key
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.UserStatusActive
	}
	if rec.Balance == "" {
		rec.Balance = "0"
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.persistLocked(rec); err != nil {
		s.mu.Unlock()
		return domain.UserRecord{}, err
	}
	s.mu.Unlock()

	s.publish(rec)
	return cloneRecord(rec), nil
}

// WriteUserBalance applies an administrator update and notifies subscribers.
func (s *WALStore) WriteUserBalance(ctx context.Context, email string, upd domain.BalanceUpdate) (domain.UserRecord, error) {
	return s.update(ctx, email, func(rec *domain.UserRecord) {
		if upd.Balance != nil {
			rec.Balance = upd.Balance.String()
		}
		if len(upd.Portfolio) > 0 {
			if rec.Portfolio == nil {
				rec.Portfolio = make(map[string]string, len(upd.Portfolio))
			}
			for symbol, amount := range upd.Portfolio {
				rec.Portfolio[strings.ToUpper(symbol)] = amount.String()
			}
		}
		if upd.DeductionPercentage != nil {
			rec.DeductionPercentage = upd.DeductionPercentage.String()
		}
		if upd.SendMessage != nil {
			rec.SendMessage = *upd.SendMessage
		}
	})
}

// SetProfilePicture stores the public URL of the user's picture. Empty url clears it.
func (s *WALStore) SetProfilePicture(ctx context.Context, email, url string) (domain.UserRecord, error) {
	return s.update(ctx, email, func(rec *domain.UserRecord) {
		rec.ProfilePictureURL = url
	})
}

// Subscribe opens a push channel for changes to email's record.
func (s *WALStore) Subscribe(email string) (*events.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.broadcaster.Subscribe(normalizeEmail(email)), nil
}

// Unsubscribe releases a push channel.
func (s *WALStore) Unsubscribe(sub *events.Subscription) {
	s.broadcaster.Unsubscribe(sub)
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("user record store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.broadcaster.CloseAll()

	return s.wal.Close()
}

func (s *WALStore) update(ctx context.Context, email string, apply func(rec *domain.UserRecord)) (domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserRecord{}, err
	}
	key := normalizeEmail(email)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.UserRecord{}, ErrClosed
	}
	rec, ok := s.users[key]
	if !ok {
		s.mu.Unlock()
		return domain.UserRecord{}, errors.Wrapf(ErrNotFound, "email %s", email)
	}
	rec = cloneRecord(rec)
	apply(&rec)
	rec.UpdatedAt = s.now().UTC()

	if err := s.persistLocked(rec); err != nil {
		s.mu.Unlock()
		return domain.UserRecord{}, err
	}
	s.mu.Unlock()

	s.publish(rec)
	return cloneRecord(rec), nil
}

func (s *WALStore) persistLocked(rec domain.UserRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal user record")
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, recordKeyPrefix+rec.Email, payload); err != nil {
		return errors.Wrap(err, "write user record")
	}
	s.users[rec.Email] = rec
	return nil
}

func (s *WALStore) publish(rec domain.UserRecord) {
	s.broadcaster.Publish(domain.RecordChange{Email: rec.Email, Record: cloneRecord(rec)})
}

func cloneRecord(rec domain.UserRecord) domain.UserRecord {
	if rec.Portfolio != nil {
		p := make(map[string]string, len(rec.Portfolio))
		for k, v := range rec.Portfolio {
			p[k] = v
		}
		rec.Portfolio = p
	}
	return rec
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
