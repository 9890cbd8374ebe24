package http

import (
	"context"
	"log/slog"
	"net/http"

	"expensync/internal/shared/auth"
)

// SessionStore holds the signed-in user's credentials.
type SessionStore interface {
	Install(ctx context.Context, access, refresh string, p auth.Profile) error
	Clear(ctx context.Context) error
	SignedIn() bool
	UserID() string
	Profile() auth.Profile
}

type SessionHandler struct {
	session SessionStore
	logger  *slog.Logger
}

func NewSessionHandler(session SessionStore, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{session: session, logger: logger}
}

// InstallSessionRequest carries what the login screen received.
type InstallSessionRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
}

type sessionResponse struct {
	SignedIn bool   `json:"signedIn"`
	UserID   string `json:"userId,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (h *SessionHandler) current() sessionResponse {
	if !h.session.SignedIn() {
		return sessionResponse{}
	}
	p := h.session.Profile()
	return sessionResponse{
		SignedIn: true,
		UserID:   h.session.UserID(),
		Name:     p.Name,
		Email:    p.Email,
		Role:     p.Role,
	}
}

func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SessionHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	var req InstallSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile := auth.Profile{Name: req.Name, Email: req.Email, Role: req.Role}
	if err := h.session.Install(r.Context(), req.AccessToken, req.RefreshToken, profile); err != nil {
		writeError(w, h.logger, "failed to install session", err)
		return
	}

	h.logger.Info("session installed", "user_id", h.session.UserID())
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SessionHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Clear(r.Context()); err != nil {
		writeError(w, h.logger, "failed to clear session", err)
		return
	}

	h.logger.Info("session cleared")
	w.WriteHeader(http.StatusNoContent)
}
