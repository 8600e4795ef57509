package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(h.logger),
		Logging(),
		Recovery(),
	)

	// Messages
	mux.Handle("POST /api/v1/messages", chain(http.HandlerFunc(h.SendMessage)))
	mux.Handle("GET /api/v1/rooms/{id}/messages", chain(http.HandlerFunc(h.ListRoomMessages)))

	// Presence
	mux.Handle("GET /api/v1/rooms/{id}/presence", chain(http.HandlerFunc(h.GetRoomPresence)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("POST /api/v1/schedules/{id}/cancel", chain(http.HandlerFunc(h.CancelSchedule)))
}
