package finetune

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status represents the terminal or in-flight state of a fine-tune run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// Request is the queue message that starts a fine-tune run.
type Request struct {
	RequestID   string            `json:"fine_tune_request_id"`
	ModelPath   string            `json:"ai_model_path"`
	CallbackURL string            `json:"callback_url"`
	Parameters  json.RawMessage   `json:"parameters,omitempty"`
	Examples    []json.RawMessage `json:"fine_tune_data"`
}

// ParseRequest decodes a raw message body into a Request.
func ParseRequest(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("decode fine-tune request: %w", err)
	}
	return req, nil
}

// Validate checks the required fields and names the first one missing.
// An invalid request is permanently rejected upstream, never retried.
func (r Request) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"fine_tune_request_id", r.RequestID},
		{"ai_model_path", r.ModelPath},
		{"callback_url", r.CallbackURL},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("missing required field: %s", field.name)
		}
	}
	if len(r.Examples) == 0 {
		return fmt.Errorf("fine_tune_data cannot be empty")
	}
	return nil
}

// ParseParams decodes the caller-supplied override parameters. The field
// arrives either as a JSON object or as a JSON-encoded string holding one.
// Malformed payloads are non-fatal: the run proceeds with defaults.
func ParseParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	data := []byte(raw)
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = []byte(encoded)
	}

	params := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return map[string]any{}, fmt.Errorf("parse parameters: %w", err)
	}
	return params, nil
}
