package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// Message DTOs

// SendMessageRequest запрос на отправку сообщения.
type SendMessageRequest struct {
	RoomID         string          `json:"room_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	SenderID       string          `json:"sender_id"`
	MessageType    string          `json:"message_type"`
	Content        json.RawMessage `json:"content"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// MessageResponse ответ с сообщением.
type MessageResponse struct {
	ID         uuid.UUID       `json:"id"`
	RoomID     string          `json:"room_id"`
	ChannelID  string          `json:"channel_id,omitempty"`
	SenderID   string          `json:"sender_id"`
	Type       string          `json:"message_type"`
	Content    json.RawMessage `json:"content"`
	Status     string          `json:"status"`
	ScheduleID *uuid.UUID      `json:"schedule_id,omitempty"`
	SentAt     time.Time       `json:"sent_at"`
}

// MessageFromDomain конвертирует domain.Message в MessageResponse.
func MessageFromDomain(m *domain.Message) MessageResponse {
	if m == nil {
		return MessageResponse{}
	}
	return MessageResponse{
		ID:         m.ID,
		RoomID:     m.RoomID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		Type:       string(m.Type),
		Content:    m.Content,
		Status:     string(m.Status),
		ScheduleID: m.ScheduleID,
		SentAt:     m.SentAt,
	}
}

// Presence DTOs

// PresenceResponse присутствие в комнате по всем экземплярам шлюза.
type PresenceResponse struct {
	RoomID     string   `json:"room_id"`
	Sessions   int      `json:"sessions"`
	SessionIDs []string `json:"session_ids"`
}

// Schedule DTOs

// CreateScheduleRequest запрос на создание правила.
// Ровно одно из TriggerAt (ONE_TIME) и CronExpr (RECURRING) должно быть задано.
type CreateScheduleRequest struct {
	RoomID        string          `json:"room_id"`
	ChannelID     string          `json:"channel_id,omitempty"`
	SenderID      string          `json:"sender_id"`
	MessageType   string          `json:"message_type"`
	Content       json.RawMessage `json:"content"`
	TriggerAt     *time.Time      `json:"trigger_at,omitempty"`
	CronExpr      string          `json:"cron_expr,omitempty"`
	Timezone      string          `json:"timezone,omitempty"`
	MaxExecutions *int            `json:"max_executions,omitempty"`
}

// ScheduleResponse ответ с правилом.
type ScheduleResponse struct {
	ID             uuid.UUID       `json:"id"`
	RoomID         string          `json:"room_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	SenderID       string          `json:"sender_id"`
	MessageType    string          `json:"message_type"`
	Content        json.RawMessage `json:"content"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	TriggerAt      *time.Time      `json:"trigger_at,omitempty"`
	CronExpr       string          `json:"cron_expr,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	MaxExecutions  *int            `json:"max_executions,omitempty"`
	ExecutionCount int             `json:"execution_count"`
	NextFireAt     *time.Time      `json:"next_fire_at,omitempty"`
	LastExecutedAt *time.Time      `json:"last_executed_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.ScheduleRule в ScheduleResponse.
func ScheduleFromDomain(s *domain.ScheduleRule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:             s.ID,
		RoomID:         s.RoomID,
		ChannelID:      s.ChannelID,
		SenderID:       s.SenderID,
		MessageType:    string(s.MessageType),
		Content:        s.Payload,
		Kind:           string(s.Kind),
		Status:         string(s.Status),
		TriggerAt:      s.TriggerAt,
		CronExpr:       s.CronExpr,
		Timezone:       s.Timezone,
		MaxExecutions:  s.MaxExecutions,
		ExecutionCount: s.ExecutionCount,
		NextFireAt:     s.NextFireAt,
		LastExecutedAt: s.LastExecutedAt,
		LastError:      s.LastError,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
