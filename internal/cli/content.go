package cli

import (
	"encoding/json"
	"errors"
	"fmt"
)

// contentFlags общие флаги содержимого сообщения.
type contentFlags struct {
	msgType string
	text    string
	content string
}

// build собирает content: --text даёт {"text": ...}, --content передаётся как есть.
func (f contentFlags) build() (json.RawMessage, error) {
	switch {
	case f.text != "" && f.content != "":
		return nil, errors.New("use either --text or --content, not both")
	case f.text != "":
		return json.Marshal(map[string]string{"text": f.text})
	case f.content != "":
		if !json.Valid([]byte(f.content)) {
			return nil, fmt.Errorf("--content is not valid JSON")
		}
		return json.RawMessage(f.content), nil
	default:
		return nil, errors.New("message content is required (--text or --content)")
	}
}
