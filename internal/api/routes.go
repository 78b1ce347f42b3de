package api

import (
	"errors"
	"net/http"

	"roamgo/pkg/geo"
	"roamgo/pkg/model"
	"roamgo/pkg/routes"
)

type routeQuery struct {
	Origin      string `validate:"required"`
	Destination string `validate:"required"`
	Mode        string `validate:"omitempty,oneof=walking driving"`
}

// handleRoute returns a path between two points. Either endpoint may be a
// "lat,lon" pair or a place reference; an empty mode lets the cache pick.
func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := routeQuery{
		Origin:      r.URL.Query().Get("origin"),
		Destination: r.URL.Query().Get("destination"),
		Mode:        r.URL.Query().Get("mode"),
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "origin and destination are required, mode must be walking or driving")
		return
	}
	for _, s := range []string{q.Origin, q.Destination} {
		if _, err := geo.ParseCoordinate(s); err != nil && looksNumeric(s) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	route, err := h.d.Routes.FetchRoute(r.Context(), q.Origin, q.Destination, model.TravelMode(q.Mode))
	if errors.Is(err, routes.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// looksNumeric reports whether s was meant as a coordinate pair.
func looksNumeric(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c == '.', c == ',', c == '-', c == '+', c == ' ':
		default:
			return false
		}
	}
	return true
}
