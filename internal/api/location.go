package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roamgo/pkg/geo"
	"roamgo/pkg/location"
	"roamgo/pkg/model"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// wsBuffer bounds queued states per connection; a slow client loses
	// intermediate states, never the latest.
	wsBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API binds to localhost by default
	},
}

type locationRequest struct {
	Lat        *float64 `json:"lat" validate:"required,latitude"`
	Lon        *float64 `json:"lon" validate:"required,longitude"`
	Heading    *float64 `json:"heading" validate:"omitempty,gte=0,lt=360"`
	Permission *bool    `json:"permission"`
	Error      string   `json:"error"`
}

type locationResponse struct {
	model.LocationState
	// LookAhead is where the user will be after ?ahead= meters on the
	// current heading.
	LookAhead *geo.Point `json:"look_ahead,omitempty"`
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	resp := locationResponse{LocationState: h.d.Location.State()}
	if r.URL.Query().Has("ahead") {
		ahead, err := queryFloat(r, "ahead")
		if err != nil || ahead < 0 {
			writeError(w, http.StatusBadRequest, "invalid ahead")
			return
		}
		if c := resp.Coordinate; c != nil {
			p := geo.LookAhead(*c, resp.Heading, ahead)
			resp.LookAhead = &p
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateLocation accepts a device fix.
func (h *Handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permission != nil {
		h.d.Location.SetPermission(*req.Permission)
	}
	if req.Error != "" {
		h.d.Location.ReportError(req.Error)
	}
	st, err := h.d.Location.Update(r.Context(), *req.Lat, *req.Lon, req.Heading)
	if errors.Is(err, location.ErrInvalidCoordinate) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	samples, err := h.d.Location.History(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if samples == nil {
		samples = []model.LocationSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleLocationStream pushes every location change to a websocket client,
// starting with the current state.
func (h *Handler) handleLocationStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	states := make(chan model.LocationState, wsBuffer)
	unsubscribe := h.d.Location.Subscribe(func(st model.LocationState) {
		select {
		case states <- st:
		default:
			// Drop the oldest queued state to make room.
			select {
			case <-states:
			default:
			}
			select {
			case states <- st:
			default:
			}
		}
	})
	defer unsubscribe()

	// The reader only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(st); err != nil {
				h.logger.Debug("Websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
