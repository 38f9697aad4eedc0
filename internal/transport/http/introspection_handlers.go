package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/core"
)

// IntrospectionHandlers expose read-only views of live state.
type IntrospectionHandlers struct {
	hub   *core.Hub
	confs *conference.Registry
	log   *zerolog.Logger
}

// NewIntrospectionHandlers creates the handlers. confs may be nil.
func NewIntrospectionHandlers(hub *core.Hub, confs *conference.Registry, logger *zerolog.Logger) *IntrospectionHandlers {
	return &IntrospectionHandlers{hub: hub, confs: confs, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RoomResponse is one room in the listing.
type RoomResponse struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// RoomsResponse lists rooms, including empty ones.
type RoomsResponse struct {
	Rooms []RoomResponse `json:"rooms"`
}

// Rooms lists every room with its member count.
// GET /api/rooms
func (h *IntrospectionHandlers) Rooms(c *gin.Context) {
	rooms, err := h.hub.Rooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
		return
	}

	resp := RoomsResponse{Rooms: make([]RoomResponse, 0, len(rooms))}
	for _, r := range rooms {
		resp.Rooms = append(resp.Rooms, RoomResponse{Name: r.Name, Members: len(r.Members)})
	}
	c.JSON(http.StatusOK, resp)
}

// ConferencesResponse lists live conferences.
type ConferencesResponse struct {
	Conferences []*conference.Conference `json:"conferences"`
}

// Conferences returns a snapshot of every live conference.
// GET /api/conferences
func (h *IntrospectionHandlers) Conferences(c *gin.Context) {
	resp := ConferencesResponse{Conferences: []*conference.Conference{}}
	if h.confs != nil {
		resp.Conferences = h.confs.Conferences()
	}
	c.JSON(http.StatusOK, resp)
}
