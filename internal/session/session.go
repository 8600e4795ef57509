package session

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidSession у сессии пустой id.
	ErrInvalidSession = errors.New("invalid session")

	// ErrDuplicateSession сессия с таким id уже зарегистрирована.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrSessionClosed отправка в закрытую сессию.
	ErrSessionClosed = errors.New("session closed")
)

// Transport соединение клиента, через которое уходят кадры.
type Transport interface {
	// Send синхронно отправляет кадр. Ошибка означает, что соединение мертво.
	Send(frame []byte) error
	IsOpen() bool
	Close() error
}

// Session живое соединение клиента в этом процессе.
type Session interface {
	ID() string
	UserID() string
	RoomID() string
	IsActive() bool
	Send(frame []byte) error
	Close() error
}

// LocalSession сессия поверх Transport.
type LocalSession struct {
	id          string
	userID      string
	roomID      string
	transport   Transport
	connectedAt time.Time
	closed      atomic.Bool
}

// NewLocalSession создаёт сессию.
func NewLocalSession(id, userID, roomID string, transport Transport) *LocalSession {
	return &LocalSession{
		id:          id,
		userID:      userID,
		roomID:      roomID,
		transport:   transport,
		connectedAt: time.Now(),
	}
}

func (s *LocalSession) ID() string     { return s.id }
func (s *LocalSession) UserID() string { return s.userID }
func (s *LocalSession) RoomID() string { return s.roomID }

// ConnectedAt время подключения.
func (s *LocalSession) ConnectedAt() time.Time { return s.connectedAt }

// IsActive true, пока сессия не закрыта и транспорт открыт.
func (s *LocalSession) IsActive() bool {
	return !s.closed.Load() && s.transport != nil && s.transport.IsOpen()
}

// Send отправляет кадр через транспорт.
func (s *LocalSession) Send(frame []byte) error {
	if !s.IsActive() {
		return ErrSessionClosed
	}
	return s.transport.Send(frame)
}

// Close закрывает транспорт. Повторный вызов ничего не делает.
func (s *LocalSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}
