package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"roamgo/pkg/quota"
)

type categoryResponse struct {
	Category  string `json:"category"`
	Available bool   `json:"available"`
	Remaining int    `json:"remaining"`
}

type recordResponse struct {
	Category  string `json:"category"`
	Recorded  bool   `json:"recorded"`
	Remaining int    `json:"remaining"`
}

func validCategory(c string) bool {
	return c == quota.CategoryPlaces || c == quota.CategoryRouting
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Quota.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleQuotaCategory(w http.ResponseWriter, r *http.Request) {
	c := chi.URLParam(r, "category")
	if !validCategory(c) {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	writeJSON(w, http.StatusOK, categoryResponse{
		Category:  c,
		Available: h.d.Quota.HasQuotaAvailable(r.Context(), c),
		Remaining: h.d.Quota.RemainingQuota(r.Context()),
	})
}

// handleRecordQuota records a billable call made outside the caches.
// A refused call answers 429.
func (h *Handler) handleRecordQuota(w http.ResponseWriter, r *http.Request) {
	c := chi.URLParam(r, "category")
	if !validCategory(c) {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	ok := h.d.Quota.RecordAPICall(r.Context(), c)
	status := http.StatusOK
	if !ok {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, recordResponse{
		Category:  c,
		Recorded:  ok,
		Remaining: h.d.Quota.RemainingQuota(r.Context()),
	})
}
