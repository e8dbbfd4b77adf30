// Package admin implements the operator surface over user records: listing,
// overview stats, balance edits and profile pictures.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

// MaxPictureSize caps profile picture uploads.
const MaxPictureSize = 5 << 20

const picturePrefix = "profile_"

var (
	ErrInvalidBalance   = errors.New("balance must be a non-negative number")
	ErrInvalidDeduction = errors.New("deduction percentage must be between 0 and 100")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidPicture   = errors.New("profile picture must be an image")
	ErrPictureTooLarge  = errors.New("profile picture exceeds 5MB")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

type recordStore interface {
	ReadUser(ctx context.Context, email string) (domain.UserRecord, error)
	ListUsers(ctx context.Context) ([]domain.UserRecord, error)
	InsertUser(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, error)
	WriteUserBalance(ctx context.Context, email string, upd domain.BalanceUpdate) (domain.UserRecord, error)
	SetProfilePicture(ctx context.Context, email, url string) (domain.UserRecord, error)
}

type blobStore interface {
	Upload(key string, data []byte) (string, error)
	Remove(key string) error
	KeyFromURL(url string) (string, bool)
}

// Overview is the summary shown above the user table.
type Overview struct {
	TotalUsers   int             `json:"total_users"`
	TotalBalance decimal.Decimal `json:"total_balance"`
	ActiveUsers  int             `json:"active_users"`
}

// BalanceEdit is the raw form an operator submits. Empty fields are left untouched.
type BalanceEdit struct {
	Balance             string            `json:"balance"`
	Portfolio           map[string]string `json:"portfolio,omitempty"`
	DeductionPercentage string            `json:"deduction_percentage,omitempty"`
	SendMessage         *string           `json:"send_message,omitempty"`
	Note                string            `json:"note,omitempty"`
}

// Service applies operator actions. Writes are never retried; the caller sees the error.
type Service struct {
	logger  *zap.Logger
	records recordStore
	blobs   blobStore
	now     func() time.Time
}

func NewService(logger *zap.Logger, records recordStore, blobs blobStore) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:  logger,
		records: records,
		blobs:   blobs,
		now:     time.Now,
	}
}

// ListUsers returns all user records, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	users, err := s.records.ListUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

// Overview counts users, sums stored balances and counts active accounts.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{TotalUsers: len(users), TotalBalance: decimal.Zero}
	for _, u := range users {
		out.TotalBalance = out.TotalBalance.Add(u.StoredBalance())
		if u.Status == domain.UserStatusActive {
			out.ActiveUsers++
		}
	}
	return out, nil
}

// CreateUser registers a new active user with a zero balance.
func (s *Service) CreateUser(ctx context.Context, email, username string) (domain.UserRecord, error) {
	email = strings.TrimSpace(email)
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		return domain.UserRecord{}, errors.Wrapf(ErrInvalidEmail, "%q", email)
	}
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	rec, err := s.records.InsertUser(ctx, domain.UserRecord{Email: email, Username: username})
	if err != nil {
		s.logger.Error("failed to create user", zap.String("email", email), zap.Error(err))
		return domain.UserRecord{}, errors.Wrap(err, "create user")
	}
	s.logger.Info("user created", zap.String("email", rec.Email), zap.String("id", rec.ID))
	return rec, nil
}

// SetBalance validates and writes an operator edit. The write reaches the
// user's session through the record store's push channel.
func (s *Service) SetBalance(ctx context.Context, email string, edit BalanceEdit) (domain.UserRecord, error) {
	upd, err := parseEdit(edit)
	if err != nil {
		return domain.UserRecord{}, err
	}

	rec, err := s.records.WriteUserBalance(ctx, email, upd)
	if err != nil {
		s.logger.Error("failed to update balance", zap.String("email", email), zap.Error(err))
		return domain.UserRecord{}, errors.Wrap(err, "update balance")
	}

	s.logger.Info("balance updated",
		zap.String("email", rec.Email),
		zap.String("balance", rec.Balance),
		zap.String("note", upd.Note))
	return rec, nil
}

// UploadProfilePicture stores an image and points the user's record at it.
// The previous picture is removed on a best-effort basis once the record
// points at the new one.
func (s *Service) UploadProfilePicture(ctx context.Context, email, filename string, data []byte) (domain.UserRecord, error) {
	if len(data) == 0 {
		return domain.UserRecord{}, ErrInvalidPicture
	}
	if len(data) > MaxPictureSize {
		return domain.UserRecord{}, ErrPictureTooLarge
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return domain.UserRecord{}, errors.Wrapf(ErrInvalidPicture, "got %s", contentType)
	}

	current, err := s.records.ReadUser(ctx, email)
	if err != nil {
		return domain.UserRecord{}, errors.Wrap(err, "read user")
	}

	key := pictureKey(current.Email, filename, contentType, s.now())
	url, err := s.blobs.Upload(key, data)
	if err != nil {
		s.logger.Error("failed to upload profile picture", zap.String("email", email), zap.Error(err))
		return domain.UserRecord{}, errors.Wrap(err, "upload profile picture")
	}

	rec, err := s.records.SetProfilePicture(ctx, email, url)
	if err != nil {
		// the record was not updated, the new blob is orphaned
		_ = s.blobs.Remove(key)
		return domain.UserRecord{}, errors.Wrap(err, "save profile picture")
	}
	if current.ProfilePictureURL != url {
		s.removePicture(current)
	}
	s.logger.Info("profile picture updated", zap.String("email", rec.Email), zap.String("url", url))
	return rec, nil
}

// RemoveProfilePicture deletes the user's picture and clears the record.
func (s *Service) RemoveProfilePicture(ctx context.Context, email string) (domain.UserRecord, error) {
	current, err := s.records.ReadUser(ctx, email)
	if err != nil {
		return domain.UserRecord{}, errors.Wrap(err, "read user")
	}

	rec, err := s.records.SetProfilePicture(ctx, email, "")
	if err != nil {
		return domain.UserRecord{}, errors.Wrap(err, "clear profile picture")
	}
	s.removePicture(current)
	return rec, nil
}

func (s *Service) removePicture(rec domain.UserRecord) {
	if rec.ProfilePictureURL == "" {
		return
	}
	key, ok := s.blobs.KeyFromURL(rec.ProfilePictureURL)
	if !ok || !strings.HasPrefix(path.Base(key), picturePrefix) {
		return
	}
	if err := s.blobs.Remove(key); err != nil {
		s.logger.Warn("could not delete old profile picture", zap.String("key", key), zap.Error(err))
	}
}

func parseEdit(edit BalanceEdit) (domain.BalanceUpdate, error) {
	upd := domain.BalanceUpdate{SendMessage: edit.SendMessage, Note: edit.Note}

	if raw := strings.TrimSpace(edit.Balance); raw != "" {
		v, err := parseNonNegative(raw)
		if err != nil {
			return upd, errors.Wrapf(ErrInvalidBalance, "balance %q", raw)
		}
		upd.Balance = &v
	}

	if len(edit.Portfolio) > 0 {
		upd.Portfolio = make(map[string]decimal.Decimal, len(edit.Portfolio))
		for symbol, raw := range edit.Portfolio {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if _, ok := domain.AssetBySymbol(symbol); !ok {
				return upd, errors.Wrapf(domain.ErrUnsupportedAsset, "%s", symbol)
			}
			v, err := parseNonNegative(raw)
			if err != nil {
				return upd, errors.Wrapf(ErrInvalidBalance, "%s amount %q", symbol, raw)
			}
			upd.Portfolio[symbol] = v
		}
	}

	if raw := strings.TrimSpace(edit.DeductionPercentage); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
			return upd, errors.Wrapf(ErrInvalidDeduction, "%q", raw)
		}
		upd.DeductionPercentage = &v
	}

	return upd, nil
}

func parseNonNegative(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, ErrInvalidBalance
	}
	return v, nil
}

func pictureKey(email, filename, contentType string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || unsafeChars.MatchString(ext) {
		ext = strings.TrimPrefix(contentType, "image/")
	}
	return fmt.Sprintf("%s%s_%d.%s", picturePrefix, unsafeChars.ReplaceAllString(email, "_"), now.UnixMilli(), ext)
}
