package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"roamgo/pkg/model"
)

type saveVisitedRequest struct {
	ID    string   `json:"id" validate:"required"`
	Name  string   `json:"name"`
	Lat   float64  `json:"lat" validate:"latitude"`
	Lon   float64  `json:"lon" validate:"longitude"`
	Types []string `json:"types"`
}

type checkVisitedRequest struct {
	Places []model.PlaceSummary `json:"places" validate:"required,max=500"`
}

type visitedResponse struct {
	ID      string `json:"id"`
	Visited bool   `json:"visited"`
}

func (h *Handler) handleIsVisited(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, visitedResponse{ID: id, Visited: h.d.Visited.IsPlaceVisited(r.Context(), id)})
}

func (h *Handler) handleVisitedList(w http.ResponseWriter, r *http.Request) {
	list := h.d.Visited.VisitedPlaces(r.Context())
	if list == nil {
		list = []model.VisitedPlace{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSaveVisited(w http.ResponseWriter, r *http.Request) {
	var req saveVisitedRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := model.PlaceSummary{ID: req.ID, Name: req.Name, Lat: req.Lat, Lon: req.Lon, Types: req.Types}
	if !h.d.Visited.SaveVisitedPlace(r.Context(), p) {
		writeError(w, http.StatusServiceUnavailable, "visit could not be stored")
		return
	}
	writeJSON(w, http.StatusCreated, visitedResponse{ID: req.ID, Visited: true})
}

// handleCheckVisited annotates the posted places with their visited flags.
func (h *Handler) handleCheckVisited(w http.ResponseWriter, r *http.Request) {
	var req checkVisitedRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.d.Visited.CheckVisitedPlaces(r.Context(), req.Places))
}
