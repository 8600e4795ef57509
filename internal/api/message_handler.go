package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
)

// SendMessage записывает сообщение. Доставка в комнату идёт через outbox.
// POST /api/v1/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.RoomID == "" || req.SenderID == "" {
		BadRequest(w, "room_id and sender_id are required")
		return
	}

	if !h.allow(w, r, req.SenderID) {
		return
	}

	msg, err := h.writer.Write(r.Context(), message.Request{
		RoomID:         req.RoomID,
		ChannelID:      req.ChannelID,
		SenderID:       req.SenderID,
		Type:           domain.MessageType(req.MessageType),
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if isValidationError(err) {
		BadRequest(w, err.Error())
		return
	}
	if HandleRepoError(w, h.log(r), err, "") {
		return
	}

	Created(w, MessageFromDomain(msg))
}

// ListRoomMessages возвращает последние сообщения комнаты.
// GET /api/v1/rooms/{id}/messages?limit=...
func (h *Handler) ListRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		BadRequest(w, "room id is required")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.messages.ListByRoom(r.Context(), roomID, limit)
	if HandleRepoError(w, h.log(r), err, "") {
		return
	}

	result := make([]MessageResponse, len(messages))
	for i := range messages {
		result[i] = MessageFromDomain(&messages[i])
	}

	List(w, result, len(result))
}

func isValidationError(err error) bool {
	return errors.Is(err, message.ErrInvalidRequest) ||
		errors.Is(err, message.ErrUnknownType) ||
		errors.Is(err, message.ErrInvalidContent) ||
		errors.Is(err, domain.ErrInvalidSchedule)
}
