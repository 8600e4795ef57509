package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/scheduler"
)

// ListSchedules возвращает список правил с фильтрацией.
// GET /api/v1/schedules?room_id=...&status=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{
		RoomID: r.URL.Query().Get("room_id"),
		Limit:  50,
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := domain.ScheduleStatus(statusStr)
		if !status.Valid() {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = parseIntOr(limitStr, 50)
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = parseIntOr(offsetStr, 0)
	}

	rules, err := h.schedules.List(r.Context(), filter)
	if HandleRepoError(w, h.log(r), err, "") {
		return
	}

	result := make([]ScheduleResponse, len(rules))
	for i := range rules {
		result[i] = ScheduleFromDomain(&rules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт правило отложенной или периодической отправки.
// POST /api/v1/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Валидация
	if (req.TriggerAt == nil) == (req.CronExpr == "") {
		BadRequest(w, "exactly one of trigger_at or cron_expr is required")
		return
	}

	msgType := domain.MessageType(req.MessageType)
	if err := h.registry.Validate(msgType, req.Content); err != nil {
		BadRequest(w, err.Error())
		return
	}

	params := domain.ScheduleParams{
		RoomID:      req.RoomID,
		ChannelID:   req.ChannelID,
		SenderID:    req.SenderID,
		MessageType: msgType,
		Payload:     req.Content,
	}
	now := h.now().UTC()

	var (
		rule *domain.ScheduleRule
		err  error
	)
	if req.TriggerAt != nil {
		rule, err = domain.NewOneTimeRule(params, *req.TriggerAt, now)
	} else {
		var first time.Time
		first, err = scheduler.NextFire(req.CronExpr, req.Timezone, now)
		if err == nil {
			rule, err = domain.NewRecurringRule(params, req.CronExpr, req.Timezone, req.MaxExecutions, first, now)
		}
	}
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.schedules.Create(r.Context(), rule); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			Conflict(w, "schedule already exists")
			return
		}
		InternalError(w, h.log(r), err)
		return
	}

	h.log(r).Info("schedule created",
		"schedule_id", rule.ID,
		"room_id", rule.RoomID,
		"kind", rule.Kind,
		"next_fire_at", rule.NextFireAt,
	)
	Created(w, ScheduleFromDomain(rule))
}

// GetSchedule возвращает правило по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	rule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.log(r), err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(rule))
}

// CancelSchedule отменяет правило. Уже отработавшее или отменённое правило даёт 422.
// POST /api/v1/schedules/{id}/cancel
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	rule, err := h.schedules.Cancel(r.Context(), id)
	if HandleRepoError(w, h.log(r), err, "schedule not found") {
		return
	}

	h.log(r).Info("schedule cancelled", "schedule_id", rule.ID)
	Success(w, ScheduleFromDomain(rule))
}

func parseIntOr(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
