package web

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/walletsync/internal"
	"github.com/vadiminshakov/walletsync/internal/domain"
	"github.com/vadiminshakov/walletsync/internal/services/admin"
	"github.com/vadiminshakov/walletsync/internal/storage/records"
)

const maxJSONBody = 1 << 20

type sendQuoteRequest struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "no wallet session")
		return
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	s.session.NotifyFocus()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	masked := s.session.ToggleVisibility()
	writeJSON(w, http.StatusOK, map[string]bool{"masked": masked})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "no wallet session")
		return
	}
	if err := s.session.Logout(); err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendQuote(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	var req sendQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrInvalidAmount.Error())
		return
	}

	quote, err := s.session.QuoteSend(r.Context(), domain.SendRequest{
		Symbol:  strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Address: req.Address,
		Amount:  amount,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, quote)
	case errors.Is(err, internal.ErrSignedOut):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrUnsupportedAsset):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("send quote failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to quote send")
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.admin.ListUsers(r.Context())
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.admin.Overview(r.Context())
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.admin.CreateUser(r.Context(), req.Email, req.Username)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var edit admin.BalanceEdit
	if err := decodeJSON(r, &edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.admin.SetBalance(r.Context(), mux.Vars(r)["email"], edit)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUploadPicture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, admin.MaxPictureSize+(64<<10))
	if err := r.ParseMultipartForm(admin.MaxPictureSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, admin.ErrPictureTooLarge.Error())
		return
	}
	file, header, err := r.FormFile("picture")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing picture file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read picture")
		return
	}

	rec, err := s.admin.UploadProfilePicture(r.Context(), mux.Vars(r)["email"], header.Filename, data)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemovePicture(w http.ResponseWriter, r *http.Request) {
	rec, err := s.admin.RemoveProfilePicture(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// requireAdmin guards the admin routes with HTTP basic auth against a bcrypt
// hash. Without a configured hash the routes do not exist.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil || s.opts.AdminPasswordHash == "" {
			http.NotFound(w, r)
			return
		}

		user, password, ok := r.BasicAuth()
		valid := ok &&
			subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.AdminUser)) == 1 &&
			bcrypt.CompareHashAndPassword([]byte(s.opts.AdminPasswordHash), []byte(password)) == nil
		if !valid {
			s.logger.Warn("rejected admin request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Basic realm="walletsync admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "no wallet session")
		return false
	}
	if !s.session.SignedIn() {
		writeError(w, http.StatusUnauthorized, internal.ErrSignedOut.Error())
		return false
	}
	return true
}

func (s *Server) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrInvalidBalance),
		errors.Is(err, admin.ErrInvalidDeduction),
		errors.Is(err, admin.ErrInvalidEmail),
		errors.Is(err, admin.ErrInvalidPicture),
		errors.Is(err, domain.ErrUnsupportedAsset):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, admin.ErrPictureTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, records.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("admin request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
