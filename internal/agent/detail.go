package agent

import (
	"encoding/json"
	"strings"
)

// ErrorDetail extracts the human-readable message from an agent error body.
// The agents answer with {"detail": "..."} or, for request validation
// failures, {"detail": [{"msg": "..."}, ...]}. Bodies without a detail field
// yield their "error" or "message" field, or "" when nothing is recognizable.
func ErrorDetail(body []byte) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Loc []any  `json:"loc"`
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if envelope.Error != "" {
		return envelope.Error
	}
	return envelope.Message
}
