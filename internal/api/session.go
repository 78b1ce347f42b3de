package api

import (
	"net/http"

	"roamgo/pkg/session"
)

type signInRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type foregroundRequest struct {
	Foreground *bool `json:"foreground" validate:"required"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.d.Session.SignIn(req.UserID)
	h.persistSession(r)
	writeJSON(w, http.StatusOK, h.d.Session.State())
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	h.d.Session.SignOut()
	h.persistSession(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) persistSession(r *http.Request) {
	if h.d.Local == nil {
		return
	}
	if err := session.Persist(r.Context(), h.d.Local, h.d.Session); err != nil {
		h.logger.Warn("Failed to persist session", "error", err)
	}
}

// handleForeground tells the core whether the app is in the foreground.
func (h *Handler) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.d.Orchestrator.SetForeground(*req.Foreground)
	writeJSON(w, http.StatusOK, map[string]bool{"foreground": h.d.Orchestrator.Foreground()})
}
