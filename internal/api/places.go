package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roamgo/pkg/core"
	"roamgo/pkg/geo"
	"roamgo/pkg/places"
)

// handleNearby answers a nearby query for an explicit coordinate.
func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !geo.Valid(p) {
		writeError(w, http.StatusBadRequest, "coordinate out of range")
		return
	}
	res := h.d.Orchestrator.NearbyPlacesAt(r.Context(), p, queryBool(r, "force"))
	writeJSON(w, http.StatusOK, res)
}

// handleCurrent answers a nearby query for the device position.
func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.Orchestrator.NearbyPlaces(r.Context(), queryBool(r, "force"))
	if errors.Is(err, core.ErrNoLocation) {
		writeError(w, http.StatusConflict, "location not available yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePlaceDetails returns the full record of a place. With
// ?summary=true only the summary is resolved.
func (h *Handler) handlePlaceDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if queryBool(r, "summary") {
		p, err := h.d.Places.FetchPlaceByID(r.Context(), id)
		if err != nil {
			writePlaceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	d, err := h.d.Places.FetchPlaceDetailsOnDemand(r.Context(), id)
	if err != nil {
		writePlaceError(w, err)
		return
	}
	if h.d.Visited != nil {
		d.IsVisited = h.d.Visited.IsPlaceVisited(r.Context(), d.ID)
	}
	writeJSON(w, http.StatusOK, d)
}

func writePlaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, places.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, places.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
