package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict условное обновление проиграло конкурентной записи.
	ErrConflict = errors.New("concurrent modification")

	// ErrLocked строка заблокирована другой транзакцией.
	ErrLocked = errors.New("row locked")
)
