package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	mux       *http.ServeMux
	schedules *memSchedules
	messages  *memMessages
	redis     redis.UniversalClient
}

func newTestAPI(t *testing.T, limiter RateLimiter) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	schedules := newMemSchedules()
	messages := newMemMessages()

	h := NewHandler(Config{
		Schedules: schedules,
		Writer:    message.NewWriter(message.WriterConfig{Store: messages, Logger: telemetry.Discard()}),
		Messages:  messages,
		Presence:  session.NewRedisPresence(client, telemetry.Discard()),
		Limiter:   limiter,
		Logger:    telemetry.Discard(),
		Now:       func() time.Time { return now },
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testAPI{mux: mux, schedules: schedules, messages: messages, redis: client}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func textMessage(room, sender, text string) SendMessageRequest {
	return SendMessageRequest{
		RoomID:      room,
		SenderID:    sender,
		MessageType: string(domain.MessageTypeText),
		Content:     json.RawMessage(`{"text":"` + text + `"}`),
	}
}

func TestSendMessage(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u1", "hello"))
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := decodeData[MessageResponse](t, rec)
	assert.Equal(t, "R1", msg.RoomID)
	assert.Equal(t, string(domain.MessageStatusSent), msg.Status)
	assert.JSONEq(t, `{"text":"hello"}`, string(msg.Content))

	messages, events := api.messages.count()
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, events)
}

func TestSendMessage_Validation(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing room", textMessage("", "u1", "x")},
		{"missing sender", textMessage("R1", "", "x")},
		{"unknown type", SendMessageRequest{RoomID: "R1", SenderID: "u1", MessageType: "hologram", Content: json.RawMessage(`{}`)}},
		{"bad content", SendMessageRequest{RoomID: "R1", SenderID: "u1", MessageType: "text", Content: json.RawMessage(`{"text":""}`)}},
		{"not json", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrCodeBadRequest, errorCode(t, rec))
		})
	}

	messages, _ := api.messages.count()
	assert.Zero(t, messages)
}

func TestSendMessage_DuplicateIdempotencyKey(t *testing.T) {
	api := newTestAPI(t, nil)
	req := textMessage("R1", "u1", "once")
	req.IdempotencyKey = "client-42"

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/messages", req).Code)
	rec := api.do(t, http.MethodPost, "/api/v1/messages", req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	messages, _ := api.messages.count()
	assert.Equal(t, 1, messages)
}

func TestSendMessage_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	api := newTestAPI(t, NewRedisRateLimiter(client, 1, 2))

	for i := 0; i < 2; i++ {
		rec := api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u1", "x"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u1", "x"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, ErrCodeRateLimited, errorCode(t, rec))

	// Квота считается по отправителю
	rec = api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u2", "x"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (LimitResult, error) {
	return LimitResult{}, assert.AnError
}

func TestSendMessage_LimiterDownAllows(t *testing.T) {
	api := newTestAPI(t, brokenLimiter{})
	rec := api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u1", "x"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestListRoomMessages(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, text := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R1", "u1", text)).Code)
	}
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/messages", textMessage("R2", "u1", "z")).Code)

	rec := api.do(t, http.MethodGet, "/api/v1/rooms/R1/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeData[[]MessageResponse](t, rec)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"text":"c"}`, string(msgs[0].Content))

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/rooms/R1/messages?limit=-1", nil).Code)
}

func oneTimeRequest(at time.Time) CreateScheduleRequest {
	return CreateScheduleRequest{
		RoomID:      "R1",
		SenderID:    "u1",
		MessageType: string(domain.MessageTypeText),
		Content:     json.RawMessage(`{"text":"reminder"}`),
		TriggerAt:   &at,
	}
}

func TestCreateSchedule_OneTime(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/v1/schedules", oneTimeRequest(now.Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rule := decodeData[ScheduleResponse](t, rec)
	assert.Equal(t, string(domain.ScheduleKindOneTime), rule.Kind)
	assert.Equal(t, string(domain.ScheduleStatusPending), rule.Status)
	require.NotNil(t, rule.NextFireAt)
	assert.True(t, now.Add(time.Hour).Equal(*rule.NextFireAt))

	_, err := api.schedules.GetByID(context.Background(), rule.ID)
	assert.NoError(t, err)
}

func TestCreateSchedule_Recurring(t *testing.T) {
	api := newTestAPI(t, nil)
	limit := 3

	rec := api.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		RoomID:        "R1",
		SenderID:      "u1",
		MessageType:   string(domain.MessageTypeText),
		Content:       json.RawMessage(`{"text":"standup"}`),
		CronExpr:      "@every 1m",
		MaxExecutions: &limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rule := decodeData[ScheduleResponse](t, rec)
	assert.Equal(t, string(domain.ScheduleKindRecurring), rule.Kind)
	assert.Equal(t, string(domain.ScheduleStatusActive), rule.Status)
	require.NotNil(t, rule.NextFireAt)
	assert.True(t, now.Add(time.Minute).Equal(*rule.NextFireAt))
	require.NotNil(t, rule.MaxExecutions)
	assert.Equal(t, 3, *rule.MaxExecutions)
}

func TestCreateSchedule_Validation(t *testing.T) {
	api := newTestAPI(t, nil)
	zero := 0

	both := oneTimeRequest(now.Add(time.Hour))
	both.CronExpr = "@hourly"

	neither := oneTimeRequest(now)
	neither.TriggerAt = nil

	past := oneTimeRequest(now.Add(-time.Minute))

	badCron := neither
	badCron.CronExpr = "not a cron"

	badLimit := neither
	badLimit.CronExpr = "@hourly"
	badLimit.MaxExecutions = &zero

	badContent := oneTimeRequest(now.Add(time.Hour))
	badContent.Content = json.RawMessage(`{}`)

	noRoom := oneTimeRequest(now.Add(time.Hour))
	noRoom.RoomID = ""

	tests := map[string]CreateScheduleRequest{
		"both trigger and cron": both,
		"neither":               neither,
		"trigger in past":       past,
		"bad cron":              badCron,
		"zero limit":            badLimit,
		"bad content":           badContent,
		"missing room":          noRoom,
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/schedules", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetSchedule(t *testing.T) {
	api := newTestAPI(t, nil)
	created := decodeData[ScheduleResponse](t, api.do(t, http.MethodPost, "/api/v1/schedules", oneTimeRequest(now.Add(time.Hour))))

	rec := api.do(t, http.MethodGet, "/api/v1/schedules/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeData[ScheduleResponse](t, rec).ID)

	rec = api.do(t, http.MethodGet, "/api/v1/schedules/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/schedules/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSchedules(t *testing.T) {
	api := newTestAPI(t, nil)
	r1 := oneTimeRequest(now.Add(time.Hour))
	r2 := oneTimeRequest(now.Add(2 * time.Hour))
	r2.RoomID = "R2"
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/schedules", r1).Code)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/schedules", r2).Code)

	rec := api.do(t, http.MethodGet, "/api/v1/schedules?room_id=R2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decodeData[[]ScheduleResponse](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, "R2", rules[0].RoomID)

	rec = api.do(t, http.MethodGet, "/api/v1/schedules?status=PENDING", nil)
	assert.Len(t, decodeData[[]ScheduleResponse](t, rec), 2)

	rec = api.do(t, http.MethodGet, "/api/v1/schedules?status=SLEEPING", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelSchedule(t *testing.T) {
	api := newTestAPI(t, nil)
	created := decodeData[ScheduleResponse](t, api.do(t, http.MethodPost, "/api/v1/schedules", oneTimeRequest(now.Add(time.Hour))))
	path := "/api/v1/schedules/" + created.ID.String() + "/cancel"

	rec := api.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.ScheduleStatusCancelled), decodeData[ScheduleResponse](t, rec).Status)

	rec = api.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ErrCodeInvalidState, errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/v1/schedules/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoomPresence(t *testing.T) {
	api := newTestAPI(t, nil)
	presence := session.NewRedisPresence(api.redis, telemetry.Discard())
	registry := session.NewRegistry(telemetry.Discard(), presence)
	require.NoError(t, registry.Register(session.NewLocalSession("s2", "u2", "R1", nopTransport{})))
	require.NoError(t, registry.Register(session.NewLocalSession("s1", "u1", "R1", nopTransport{})))
	require.NoError(t, registry.Register(session.NewLocalSession("s3", "u3", "R2", nopTransport{})))

	rec := api.do(t, http.MethodGet, "/api/v1/rooms/R1/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[PresenceResponse](t, rec)
	assert.Equal(t, PresenceResponse{RoomID: "R1", Sessions: 2, SessionIDs: []string{"s1", "s2"}}, got)

	rec = api.do(t, http.MethodGet, "/api/v1/rooms/empty/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeData[PresenceResponse](t, rec).Sessions)
}

type nopTransport struct{}

func (nopTransport) Send([]byte) error { return nil }
func (nopTransport) IsOpen() bool      { return true }
func (nopTransport) Close() error      { return nil }

type panicWriter struct{}

func (panicWriter) Write(context.Context, message.Request) (*domain.Message, error) {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	h := NewHandler(Config{Writer: panicWriter{}, Logger: telemetry.Discard()})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(textMessage("R1", "u1", "x"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	h := NewHandler(Config{Schedules: newMemSchedules(), Logger: telemetry.Discard()})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}
