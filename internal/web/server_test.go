package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/walletsync/internal"
	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/events"
	"github.com/vadiminshakov/walletsync/internal/services/admin"
	"github.com/vadiminshakov/walletsync/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/walletsync/internal/storage/blobs"
	"github.com/vadiminshakov/walletsync/internal/storage/records"
)

type fakeSession struct {
	mu        sync.Mutex
	view      domain.BalanceView
	focus     int
	masked    bool
	signedOut bool
	quoteErr  error
}

func (f *fakeSession) View() domain.BalanceView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSession) NotifyFocus() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focus++
}

func (f *fakeSession) focusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focus
}

func (f *fakeSession) failQuotes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteErr = err
}

func (f *fakeSession) ToggleVisibility() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masked = !f.masked
	return f.masked
}

func (f *fakeSession) SignedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.signedOut
}

func (f *fakeSession) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = true
	return nil
}

func (f *fakeSession) QuoteSend(_ context.Context, req domain.SendRequest) (domain.SendQuote, error) {
	f.mu.Lock()
	quoteErr := f.quoteErr
	f.mu.Unlock()
	if quoteErr != nil {
		return domain.SendQuote{}, quoteErr
	}
	return domain.SendQuote{Symbol: req.Symbol, Amount: req.Amount, Fee: req.Amount.Div(decimal.NewFromInt(10))}, nil
}

const adminPassword = "s3cret"

type fixture struct {
	srv     *httptest.Server
	session *fakeSession
	views   *balancesnapshots.WALStore
	records *records.WALStore
}

func newFixture(t *testing.T, withAdmin bool) *fixture {
	t.Helper()

	views, err := balancesnapshots.NewWALStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = views.Close() })

	store, err := records.NewWALStore(t.TempDir(), events.NewRecordBroadcaster(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobDir := t.TempDir()
	blobStore, err := blobs.NewFSStore(blobDir, "/blobs")
	require.NoError(t, err)

	opts := Options{Email: "alice@example.com", AdminUser: "admin", BlobDir: blobDir, BlobBaseURL: "/blobs"}
	if withAdmin {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
		require.NoError(t, err)
		opts.AdminPasswordHash = string(hash)
	}

	session := &fakeSession{view: domain.BalanceView{Email: "alice@example.com", DisplayValue: "$12.00", Loaded: true}}
	server := NewServer(nil, opts, views, session, admin.NewService(nil, store, blobStore))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, session: session, views: views, records: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any, auth bool) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if auth {
		req.SetBasicAuth("admin", adminPassword)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_WalletRoutes(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/balance", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view domain.BalanceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "$12.00", view.DisplayValue)

	resp = f.do(t, http.MethodPost, "/focus", nil, false)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.session.focusCount())

	resp = f.do(t, http.MethodPost, "/visibility", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vis map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vis))
	assert.True(t, vis["masked"])

	resp = f.do(t, http.MethodPost, "/logout", nil, false)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/focus", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SendQuote(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/send/quote", map[string]string{"symbol": "usdt", "address": "0x0", "amount": "50"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote domain.SendQuote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	assert.Equal(t, "USDT", quote.Symbol)
	assert.True(t, quote.Fee.Equal(decimal.NewFromInt(5)))

	resp = f.do(t, http.MethodPost, "/send/quote", map[string]string{"symbol": "usdt", "amount": "lots"}, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	f.session.failQuotes(domain.ErrInsufficientBalance)
	resp = f.do(t, http.MethodPost, "/send/quote", map[string]string{"symbol": "usdt", "amount": "1"}, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	f.session.failQuotes(internal.ErrSignedOut)
	resp = f.do(t, http.MethodPost, "/send/quote", map[string]string{"symbol": "usdt", "amount": "1"}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AdminDisabledWithoutHash(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/admin/users", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_AdminAuth(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodGet, "/admin/users", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/admin/users", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/users", nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AdminUsersAndBalance(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodPost, "/admin/users", map[string]string{"email": "bob@example.com"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.UserRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "bob", created.Username)

	resp = f.do(t, http.MethodPost, "/admin/users", map[string]string{"email": "bob@example.com"}, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/users", map[string]string{"email": "nobody"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/admin/users/bob@example.com/balance", map[string]string{"balance": "-1"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/admin/users/ghost@example.com/balance", map[string]string{"balance": "1"}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/admin/users/bob@example.com/balance", map[string]string{"balance": "250.5"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/overview", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var overview admin.Overview
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&overview))
	assert.Equal(t, 1, overview.TotalUsers)
	assert.True(t, overview.TotalBalance.Equal(decimal.RequireFromString("250.5")))
}

func TestServer_ProfilePicture(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.records.InsertUser(context.Background(), domain.UserRecord{Email: "erin@example.com"})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var pic bytes.Buffer
	require.NoError(t, png.Encode(&pic, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("picture", "me.png")
	require.NoError(t, err)
	_, err = part.Write(pic.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPut, f.srv.URL+"/admin/users/erin@example.com/picture", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth("admin", adminPassword)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec domain.UserRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.True(t, strings.HasPrefix(rec.ProfilePictureURL, "/blobs/profile_erin_example_com_"))

	blob, err := http.Get(f.srv.URL + rec.ProfilePictureURL)
	require.NoError(t, err)
	defer blob.Body.Close()
	assert.Equal(t, http.StatusOK, blob.StatusCode)

	del := f.do(t, http.MethodDelete, "/admin/users/erin@example.com/picture", nil, true)
	assert.Equal(t, http.StatusOK, del.StatusCode)
}

func TestServer_StaticIndex(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "/balance/stream")
}

func TestServer_BalanceStream(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.views.Save(domain.BalanceView{Email: "alice@example.com", DisplayValue: "$1.00"}))
	require.NoError(t, f.views.Save(domain.BalanceView{Email: "bob@example.com", DisplayValue: "$9.00"}))
	require.NoError(t, f.views.Save(domain.BalanceView{Email: "alice@example.com", DisplayValue: "$2.00"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/balance/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	values := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				var view domain.BalanceView
				if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view) == nil {
					values <- view.DisplayValue
				}
			}
		}
		close(values)
	}()

	// a fresh connection only sees the current view
	assert.Equal(t, "$2.00", <-values)

	require.NoError(t, f.views.Save(domain.BalanceView{Email: "alice@example.com", DisplayValue: "$3.00"}))
	select {
	case got := <-values:
		assert.Equal(t, "$3.00", got)
	case <-time.After(3 * time.Second):
		t.Fatal("no update streamed")
	}
}

func TestParseLastEventID(t *testing.T) {
	s := NewServer(nil, Options{}, nil, nil, nil)
	assert.Equal(t, uint64(7), s.parseLastEventID("7", "3"))
	assert.Equal(t, uint64(3), s.parseLastEventID("", "3"))
	assert.Equal(t, uint64(0), s.parseLastEventID("nope", ""))
}
