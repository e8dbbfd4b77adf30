package admin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/storage/blobs"
	"github.com/vadiminshakov/walletsync/internal/storage/records"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type fixture struct {
	svc     *Service
	records *records.WALStore
	blobDir string
}

func newFixture(t *testing.T, broadcaster *events.RecordBroadcaster) *fixture {
	t.Helper()
	store, err := records.NewWALStore(t.TempDir(), broadcaster)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobDir := t.TempDir()
	blobStore, err := blobs.NewFSStore(blobDir, "/blobs")
	require.NoError(t, err)

	svc := NewService(nil, store, blobStore)
	return &fixture{svc: svc, records: store, blobDir: blobDir}
}

func TestService_Overview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	seed := []domain.UserRecord{
		{Email: "a@x.io", Balance: "1250.75"},
		{Email: "b@x.io", Balance: "500"},
		{Email: "c@x.io", Balance: "0", Status: "inactive"},
		{Email: "d@x.io", Balance: "not a number"},
	}
	for _, rec := range seed {
		_, err := f.records.InsertUser(ctx, rec)
		require.NoError(t, err)
	}

	overview, err := f.svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, overview.TotalUsers)
	assert.Equal(t, 3, overview.ActiveUsers)
	assert.True(t, overview.TotalBalance.Equal(decimal.RequireFromString("1750.75")), overview.TotalBalance.String())
}

func TestService_CreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rec, err := f.svc.CreateUser(ctx, " carol@example.com ", "")
	require.NoError(t, err)
	assert.Equal(t, "carol", rec.Username)
	assert.Equal(t, domain.UserStatusActive, rec.Status)

	_, err = f.svc.CreateUser(ctx, "carol@example.com", "")
	assert.ErrorIs(t, err, records.ErrAlreadyExists)

	for _, bad := range []string{"", "carol", "@example.com", "carol@"} {
		_, err := f.svc.CreateUser(ctx, bad, "")
		assert.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestService_SetBalance(t *testing.T) {
	ctx := context.Background()
	broadcaster := events.NewRecordBroadcaster(4)
	f := newFixture(t, broadcaster)

	_, err := f.svc.CreateUser(ctx, "dave@example.com", "dave")
	require.NoError(t, err)
	sub := broadcaster.Subscribe("dave@example.com")
	defer broadcaster.Unsubscribe(sub)

	tests := []struct {
		name    string
		edit    BalanceEdit
		wantErr error
	}{
		{name: "negative balance", edit: BalanceEdit{Balance: "-5"}, wantErr: ErrInvalidBalance},
		{name: "non-numeric balance", edit: BalanceEdit{Balance: "lots"}, wantErr: ErrInvalidBalance},
		{name: "negative amount", edit: BalanceEdit{Portfolio: map[string]string{"BTC": "-1"}}, wantErr: ErrInvalidBalance},
		{name: "unknown asset", edit: BalanceEdit{Portfolio: map[string]string{"DOGE": "1"}}, wantErr: domain.ErrUnsupportedAsset},
		{name: "deduction over 100", edit: BalanceEdit{DeductionPercentage: "120"}, wantErr: ErrInvalidDeduction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SetBalance(ctx, "dave@example.com", tt.edit)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Len(t, sub.C, 0, "rejected edits must not reach the store")

	msg := "Contact support before withdrawing"
	rec, err := f.svc.SetBalance(ctx, "dave@example.com", BalanceEdit{
		Balance:             "1000",
		Portfolio:           map[string]string{"eth": "1.5"},
		DeductionPercentage: "10",
		SendMessage:         &msg,
		Note:                "manual credit",
	})
	require.NoError(t, err)
	assert.Equal(t, "1000", rec.Balance)
	assert.Equal(t, "1.5", rec.Portfolio["ETH"])
	assert.Equal(t, "10", rec.DeductionPercentage)

	change := <-sub.C
	assert.True(t, change.Record.StoredBalance().Equal(decimal.NewFromInt(1000)))

	_, err = f.svc.SetBalance(ctx, "ghost@example.com", BalanceEdit{Balance: "1"})
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestService_ProfilePicture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.CreateUser(ctx, "erin@example.com", "erin")
	require.NoError(t, err)

	_, err = f.svc.UploadProfilePicture(ctx, "erin@example.com", "notes.txt", []byte("plain text"))
	assert.ErrorIs(t, err, ErrInvalidPicture)

	_, err = f.svc.UploadProfilePicture(ctx, "erin@example.com", "big.png", make([]byte, MaxPictureSize+1))
	assert.ErrorIs(t, err, ErrPictureTooLarge)

	f.svc.now = func() time.Time { return time.UnixMilli(1000) }
	first, err := f.svc.UploadProfilePicture(ctx, "erin@example.com", "me.PNG", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/profile_erin_example_com_1000.png", first.ProfilePictureURL)
	assert.FileExists(t, filepath.Join(f.blobDir, "profile_erin_example_com_1000.png"))

	f.svc.now = func() time.Time { return time.UnixMilli(2000) }
	second, err := f.svc.UploadProfilePicture(ctx, "erin@example.com", "", pngHeader)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(second.ProfilePictureURL, "_2000.png"))
	assert.NoFileExists(t, filepath.Join(f.blobDir, "profile_erin_example_com_1000.png"))

	cleared, err := f.svc.RemoveProfilePicture(ctx, "erin@example.com")
	require.NoError(t, err)
	assert.Empty(t, cleared.ProfilePictureURL)

	entries, err := os.ReadDir(f.blobDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingUploads struct {
	*blobs.FSStore
}

func (failingUploads) Upload(string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestService_ProfilePictureUploadFailureKeepsOld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.CreateUser(ctx, "erin@example.com", "erin")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.UnixMilli(1000) }
	first, err := f.svc.UploadProfilePicture(ctx, "erin@example.com", "me.png", pngHeader)
	require.NoError(t, err)

	fsStore, err := blobs.NewFSStore(f.blobDir, "/blobs")
	require.NoError(t, err)
	svc := NewService(nil, f.records, failingUploads{fsStore})
	svc.now = func() time.Time { return time.UnixMilli(2000) }

	_, err = svc.UploadProfilePicture(ctx, "erin@example.com", "new.png", pngHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	rec, err := f.records.ReadUser(ctx, "erin@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ProfilePictureURL, rec.ProfilePictureURL)
	assert.FileExists(t, filepath.Join(f.blobDir, "profile_erin_example_com_1000.png"))
}

type failingRecords struct {
	recordStore
}

func (failingRecords) ListUsers(context.Context) ([]domain.UserRecord, error) {
	return nil, errors.New("connection refused")
}

func TestService_OverviewReadFailure(t *testing.T) {
	svc := NewService(nil, failingRecords{}, nil)
	_, err := svc.Overview(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list users")
}
