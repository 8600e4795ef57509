package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// MessageResponse сообщение из API.
type MessageResponse struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	ChannelID  string          `json:"channel_id,omitempty"`
	SenderID   string          `json:"sender_id"`
	Type       string          `json:"message_type"`
	Content    json.RawMessage `json:"content"`
	Status     string          `json:"status"`
	ScheduleID string          `json:"schedule_id,omitempty"`
	SentAt     string          `json:"sent_at"`
}

// ScheduleResponse правило расписания из API.
type ScheduleResponse struct {
	ID             string          `json:"id"`
	RoomID         string          `json:"room_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	SenderID       string          `json:"sender_id"`
	MessageType    string          `json:"message_type"`
	Content        json.RawMessage `json:"content"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	TriggerAt      string          `json:"trigger_at,omitempty"`
	CronExpr       string          `json:"cron_expr,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	MaxExecutions  *int            `json:"max_executions,omitempty"`
	ExecutionCount int             `json:"execution_count"`
	NextFireAt     string          `json:"next_fire_at,omitempty"`
	LastExecutedAt string          `json:"last_executed_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// PresenceResponse присутствие в комнате из API.
type PresenceResponse struct {
	RoomID     string   `json:"room_id"`
	Sessions   int      `json:"sessions"`
	SessionIDs []string `json:"session_ids"`
}

// --- Request types ---

// SendMessageRequest отправка сообщения.
type SendMessageRequest struct {
	RoomID         string          `json:"room_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	SenderID       string          `json:"sender_id"`
	MessageType    string          `json:"message_type"`
	Content        json.RawMessage `json:"content"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest создание правила.
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

// ListSchedulesOpts параметры фильтрации правил.
type ListSchedulesOpts struct {
	RoomID string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsStatus проверяет, что err это APIError с данным HTTP-статусом.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// --- Client ---

// Client HTTP-клиент для chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Messages ---

// SendMessage отправляет сообщение в комнату.
func (c *Client) SendMessage(req SendMessageRequest) (*MessageResponse, error) {
	var msg MessageResponse
	err := c.post("/api/v1/messages", req, &msg)
	return &msg, err
}

// ListMessages возвращает последние сообщения комнаты.
func (c *Client) ListMessages(roomID string, limit int) ([]MessageResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var msgs []MessageResponse
	err := c.list("/api/v1/rooms/"+url.PathEscape(roomID)+"/messages", params, &msgs)
	return msgs, err
}

// RoomPresence возвращает открытые сессии комнаты.
func (c *Client) RoomPresence(roomID string) (*PresenceResponse, error) {
	var p PresenceResponse
	err := c.get("/api/v1/rooms/"+url.PathEscape(roomID)+"/presence", &p)
	return &p, err
}

// --- Schedules ---

// ListSchedules возвращает правила с фильтрацией.
func (c *Client) ListSchedules(opts ListSchedulesOpts) ([]ScheduleResponse, error) {
	params := url.Values{}
	if opts.RoomID != "" {
		params.Set("room_id", opts.RoomID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт правило.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает правило по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// CancelSchedule отменяет правило.
func (c *Client) CancelSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules/"+id+"/cancel", nil, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
