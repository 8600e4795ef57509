package api

import (
	"net/http"
	"sort"
)

// GetRoomPresence возвращает открытые сессии комнаты.
// GET /api/v1/rooms/{id}/presence
func (h *Handler) GetRoomPresence(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		Unavailable(w, "presence is not configured")
		return
	}

	roomID := r.PathValue("id")
	ids, err := h.presence.RoomSessionIDs(r.Context(), roomID)
	if err != nil {
		InternalError(w, h.log(r), err)
		return
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}

	Success(w, PresenceResponse{
		RoomID:     roomID,
		Sessions:   len(ids),
		SessionIDs: ids,
	})
}
