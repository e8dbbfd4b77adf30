package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/services/admin"
)

const (
	viewPollInterval  = time.Second
	heartbeatInterval = 20 * time.Second
)

//go:embed static
var staticFiles embed.FS

type viewReader interface {
	ViewsAfter(email string, index uint64) ([]domain.BalanceViewRecord, error)
}

type walletSession interface {
	View() domain.BalanceView
	NotifyFocus()
	ToggleVisibility() bool
	SignedIn() bool
	Logout() error
	QuoteSend(ctx context.Context, req domain.SendRequest) (domain.SendQuote, error)
}

type adminService interface {
	ListUsers(ctx context.Context) ([]domain.UserRecord, error)
	Overview(ctx context.Context) (admin.Overview, error)
	CreateUser(ctx context.Context, email, username string) (domain.UserRecord, error)
	SetBalance(ctx context.Context, email string, edit admin.BalanceEdit) (domain.UserRecord, error)
	UploadProfilePicture(ctx context.Context, email, filename string, data []byte) (domain.UserRecord, error)
	RemoveProfilePicture(ctx context.Context, email string) (domain.UserRecord, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr              string
	Email             string
	AdminUser         string
	AdminPasswordHash string
	BlobDir           string
	BlobBaseURL       string
}

// Server exposes the wallet UI, the balance SSE stream and the admin API.
type Server struct {
	logger  *zap.Logger
	opts    Options
	views   viewReader
	session walletSession
	admin   adminService
}

// NewServer creates a new web server instance. session and admin may be nil;
// their routes then answer 503.
func NewServer(logger *zap.Logger, opts Options, views viewReader, session walletSession, adminSvc adminService) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BlobBaseURL == "" {
		opts.BlobBaseURL = "/blobs"
	}
	return &Server{
		logger:  logger,
		opts:    opts,
		views:   views,
		session: session,
		admin:   adminSvc,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/balance", s.handleBalance).Methods("GET")
	router.HandleFunc("/balance/stream", s.handleBalanceStream).Methods("GET")
	router.HandleFunc("/focus", s.handleFocus).Methods("POST")
	router.HandleFunc("/visibility", s.handleVisibility).Methods("POST")
	router.HandleFunc("/logout", s.handleLogout).Methods("POST")
	router.HandleFunc("/send/quote", s.handleSendQuote).Methods("POST")

	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(s.requireAdmin)
	adminRouter.HandleFunc("/users", s.handleListUsers).Methods("GET")
	adminRouter.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	adminRouter.HandleFunc("/overview", s.handleOverview).Methods("GET")
	adminRouter.HandleFunc("/users/{email}/balance", s.handleSetBalance).Methods("PUT")
	adminRouter.HandleFunc("/users/{email}/picture", s.handleUploadPicture).Methods("PUT")
	adminRouter.HandleFunc("/users/{email}/picture", s.handleRemovePicture).Methods("DELETE")

	if s.opts.BlobDir != "" && strings.HasPrefix(s.opts.BlobBaseURL, "/") {
		prefix := strings.TrimRight(s.opts.BlobBaseURL, "/") + "/"
		router.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(s.opts.BlobDir))))
	}

	router.PathPrefix("/").Handler(s.staticHandler()).Methods("GET")
	return router
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.opts.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.logger.Info("web server listening with automatic TLS", zap.String("addr", s.opts.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.views == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "balance view store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(viewPollInterval)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	isFirstLoad := lastIndex == 0
	sendViews := func() error {
		records, err := s.views.ViewsAfter(s.opts.Email, lastIndex)
		if err != nil {
			return err
		}
		if isFirstLoad {
			records = latestOnly(records)
			isFirstLoad = false
		}

		for _, record := range records {
			payload, err := json.Marshal(record.View)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: balance\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendViews(); err != nil {
		http.Error(w, "failed to load balance views", http.StatusInternalServerError)
		s.logger.Error("balance stream initial load", zap.Error(err))
		return
	}

	// no view yet; the client keeps its placeholder
	if lastIndex == 0 {
		fmt.Fprintf(w, "event: no_data\n")
		fmt.Fprintf(w, "data: {}\n\n")
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendViews(); err != nil {
				s.logger.Warn("balance stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) staticHandler() http.Handler {
	root, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetPath := r.URL.Path
		if assetPath == "" || assetPath == "/" {
			assetPath = "/index.html"
		}

		if !shouldCompress(assetPath) || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		gzw := &gzipResponseWriter{ResponseWriter: w, writer: gz}
		fileServer.ServeHTTP(gzw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

func shouldCompress(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return true
	}
	switch ext {
	case ".html", ".css", ".js", ".json", ".svg", ".txt":
		return true
	default:
		return false
	}
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
// The header is preferred; the query parameter allows manual reconnects to resume from a known index.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.logger.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

// latestOnly keeps the current view for a fresh connection. Older views are
// never replayed to a new client.
func latestOnly(records []domain.BalanceViewRecord) []domain.BalanceViewRecord {
	if len(records) <= 1 {
		return records
	}
	return records[len(records)-1:]
}
