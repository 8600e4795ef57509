package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// decodeObject разбирает content как JSON-объект.
func decodeObject(content json.RawMessage) (map[string]any, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidContent)
	}
	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err != nil {
		return nil, fmt.Errorf("%w: content must be a JSON object", ErrInvalidContent)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: content must be a JSON object", ErrInvalidContent)
	}
	return obj, nil
}

// fieldsHandler требует непустые строковые поля.
type fieldsHandler struct {
	typ    domain.MessageType
	fields []string
}

func requiredFields(t domain.MessageType, fields ...string) Handler {
	return fieldsHandler{typ: t, fields: fields}
}

func (h fieldsHandler) Type() domain.MessageType { return h.typ }

func (h fieldsHandler) Validate(content json.RawMessage) error {
	obj, err := decodeObject(content)
	if err != nil {
		return err
	}
	for _, f := range h.fields {
		s, ok := obj[f].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s message requires %q", ErrInvalidContent, h.typ, f)
		}
	}
	return nil
}

// locationHandler требует числовые координаты в допустимых пределах.
type locationHandler struct{}

func (locationHandler) Type() domain.MessageType { return domain.MessageTypeLocation }

func (locationHandler) Validate(content json.RawMessage) error {
	obj, err := decodeObject(content)
	if err != nil {
		return err
	}

	lat, ok := obj["latitude"].(float64)
	if !ok || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: location requires latitude in [-90, 90]", ErrInvalidContent)
	}
	lng, ok := obj["longitude"].(float64)
	if !ok || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: location requires longitude in [-180, 180]", ErrInvalidContent)
	}
	return nil
}

// objectHandler принимает любой JSON-объект.
type objectHandler struct {
	typ domain.MessageType
}

func (h objectHandler) Type() domain.MessageType { return h.typ }

func (h objectHandler) Validate(content json.RawMessage) error {
	_, err := decodeObject(content)
	return err
}
