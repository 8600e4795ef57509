package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// Типы служебных кадров.
const (
	FrameSessionOpened = "session.opened"
	FramePing          = "ping"
	FramePong          = "pong"
)

// Registry реестр, в который попадают открытые сессии.
type Registry interface {
	Register(s session.Session) error
	Remove(id string) (session.Session, bool)
}

// Config конфигурация Handler.
type Config struct {
	Registry Registry
	Logger   *slog.Logger

	PingInterval   time.Duration // default: 30s
	PongTimeout    time.Duration // default: 60s
	WriteTimeout   time.Duration // default: 10s
	MaxMessageSize int64         // default: 4096

	// CheckOrigin проверка Origin при handshake. nil разрешает любой Origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler принимает WebSocket-подключения клиентов комнат.
type Handler struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closing  bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		cfg:    cfg,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		shutdown: make(chan struct{}),
	}
}

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ServeHTTP GET /ws?room_id=..&user_id=..
//
// Держит соединение до его закрытия клиентом, ошибки транспорта или Close.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	if !h.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	transport := NewTransport(conn, h.cfg.WriteTimeout)
	sess := session.NewLocalSession(uuid.NewString(), userID, roomID, transport)
	logger := telemetry.WithSessionID(h.logger, sess.ID()).With("room_id", roomID, "user_id", userID)

	if err := h.cfg.Registry.Register(sess); err != nil {
		logger.Error("failed to register session", "error", err)
		_ = sess.Close()
		return
	}
	defer func() {
		h.cfg.Registry.Remove(sess.ID())
		_ = sess.Close()
		logger.Info("websocket session closed")
	}()

	logger.Info("websocket session opened", "remote_addr", r.RemoteAddr)

	if err := h.sendFrame(sess, frame{Type: FrameSessionOpened, Data: map[string]string{
		"session_id": sess.ID(),
		"room_id":    roomID,
	}}); err != nil {
		logger.Warn("failed to send greeting", "error", err)
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(sess, transport, stop, logger)

	h.readLoop(conn, sess, logger)
}

// readLoop читает кадры клиента до ошибки. Клиент шлёт только keepalive.
func (h *Handler) readLoop(conn *websocket.Conn, sess *session.LocalSession, logger *slog.Logger) {
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && sess.IsActive() {
				logger.Debug("websocket read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		var in frame
		if err := json.Unmarshal(data, &in); err != nil {
			logger.Debug("ignoring malformed client frame", "error", err)
			continue
		}
		if in.Type == FramePing {
			if err := h.sendFrame(sess, frame{Type: FramePong}); err != nil {
				return
			}
		}
	}
}

// keepalive шлёт ping каждые PingInterval и закрывает сессию при Close хендлера.
func (h *Handler) keepalive(sess *session.LocalSession, transport *Transport, stop <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-h.shutdown:
			_ = sess.Close()
			return
		case <-ticker.C:
			if err := transport.Ping(); err != nil {
				logger.Debug("ping failed", "error", err)
				_ = sess.Close()
				return
			}
		}
	}
}

func (h *Handler) sendFrame(sess session.Session, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return sess.Send(data)
}

func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Close закрывает все открытые соединения и ждёт завершения их обработчиков.
// Новые подключения после Close получают 503.
func (h *Handler) Close() {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.shutdown)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
