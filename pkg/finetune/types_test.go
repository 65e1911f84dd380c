package finetune

import (
	"encoding/json"
	"strings"
	"testing"
)

func validBody() string {
	return `{
		"fine_tune_request_id": "req-1",
		"ai_model_path": "/models/llama-3-8b",
		"callback_url": "http://example.com/cb",
		"fine_tune_data": [{"input": "q", "output": "a"}]
	}`
}

func TestParseRequestMalformed(t *testing.T) {
	if _, err := ParseRequest([]byte("{not json")); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestValidateAcceptsCompleteRequest(t *testing.T) {
	req, err := ParseRequest([]byte(validBody()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestValidateNamesMissingField(t *testing.T) {
	cases := []struct {
		remove string
	}{
		{"fine_tune_request_id"},
		{"ai_model_path"},
		{"callback_url"},
	}

	for _, tc := range cases {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(validBody()), &raw); err != nil {
			t.Fatalf("fixture decode: %v", err)
		}
		delete(raw, tc.remove)
		body, _ := json.Marshal(raw)

		req, err := ParseRequest(body)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		err = req.Validate()
		if err == nil {
			t.Fatalf("request missing %s was accepted", tc.remove)
		}
		if !strings.Contains(err.Error(), tc.remove) {
			t.Fatalf("error should name %s, got: %v", tc.remove, err)
		}
	}
}

func TestValidateRejectsEmptyExamples(t *testing.T) {
	req := Request{RequestID: "r", ModelPath: "/m", CallbackURL: "http://cb"}
	if err := req.Validate(); err == nil {
		t.Fatalf("empty fine_tune_data was accepted")
	}
}

func TestParseParamsObjectAndEncodedString(t *testing.T) {
	params, err := ParseParams(json.RawMessage(`{"lora_rank": 16}`))
	if err != nil {
		t.Fatalf("object params failed: %v", err)
	}
	if params["lora_rank"] != float64(16) {
		t.Fatalf("unexpected params: %v", params)
	}

	params, err = ParseParams(json.RawMessage(`"{\"lora_rank\": 32}"`))
	if err != nil {
		t.Fatalf("string-encoded params failed: %v", err)
	}
	if params["lora_rank"] != float64(32) {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestParseParamsMalformedFallsBackEmpty(t *testing.T) {
	params, err := ParseParams(json.RawMessage(`"{broken"`))
	if err == nil {
		t.Fatalf("expected parse error for malformed parameters")
	}
	if len(params) != 0 {
		t.Fatalf("malformed parameters must yield empty overrides, got %v", params)
	}

	params, err = ParseParams(nil)
	if err != nil || len(params) != 0 {
		t.Fatalf("absent parameters must yield empty overrides, got %v, %v", params, err)
	}
}
