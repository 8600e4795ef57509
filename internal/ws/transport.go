package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
)

// Transport session.Transport поверх WebSocket-соединения.
//
// Записи сериализуются мьютексом: gorilla/websocket допускает только
// одного писателя. Каждая запись ограничена writeTimeout, так что
// зависший клиент не блокирует рассылку дольше этого срока.
type Transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

// NewTransport оборачивает соединение.
func NewTransport(conn *websocket.Conn, writeTimeout time.Duration) *Transport {
	return &Transport{conn: conn, writeTimeout: writeTimeout}
}

// Send пишет текстовый кадр.
func (t *Transport) Send(frame []byte) error {
	if t.closed.Load() {
		return session.ErrSessionClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Ping отправляет ping-кадр.
func (t *Transport) Ping() error {
	if t.closed.Load() {
		return session.ErrSessionClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

// IsOpen сообщает, не закрыт ли транспорт.
func (t *Transport) IsOpen() bool {
	return !t.closed.Load()
}

// Close отправляет close-кадр и закрывает соединение. Повторный вызов ничего не делает.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.writeTimeout),
	)
	t.mu.Unlock()

	return t.conn.Close()
}

var _ session.Transport = (*Transport)(nil)
