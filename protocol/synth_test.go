package protocol

import (
	"encoding/json"
	"testing"
)

func TestInitializeResponse(t *testing.T) {
	raw := InitializeResponse(1, 42)

	m, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq != 1 || m.RequestSeq != 42 {
		t.Errorf("seq/request_seq = %d/%d", m.Seq, m.RequestSeq)
	}
	if m.Type != TypeResponse || m.Command != CommandInitialize || !m.Success {
		t.Errorf("envelope = %+v", m)
	}

	var obj struct {
		Body map[string]any `json:"body"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatal(err)
	}
	body := obj.Body

	for _, capability := range []string{
		"supportsConfigurationDoneRequest",
		"supportsConditionalBreakpoints",
		"supportsSetVariable",
		"supportsEvaluateForHovers",
		"supportsExceptionInfoRequest",
		"supportsDebuggerProperties",
	} {
		if body[capability] != true {
			t.Errorf("%s = %v, want true", capability, body[capability])
		}
	}

	filters, ok := body["exceptionBreakpointFilters"].([]any)
	if !ok || len(filters) != 2 {
		t.Fatalf("exceptionBreakpointFilters = %v", body["exceptionBreakpointFilters"])
	}
	raised := filters[0].(map[string]any)
	uncaught := filters[1].(map[string]any)
	if raised["filter"] != "raised" || raised["default"] == true {
		t.Errorf("raised filter = %v", raised)
	}
	if uncaught["filter"] != "uncaught" || uncaught["default"] != true {
		t.Errorf("uncaught filter = %v", uncaught)
	}
}

func TestErrorResponse(t *testing.T) {
	raw := ErrorResponse(3, 17, CommandAttach, "target application not found")

	m, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq != 3 || m.RequestSeq != 17 {
		t.Errorf("seq/request_seq = %d/%d", m.Seq, m.RequestSeq)
	}
	if m.Command != CommandAttach || m.Success {
		t.Errorf("envelope = %+v", m)
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatal(err)
	}
	if obj.Message != "target application not found" {
		t.Errorf("message = %q", obj.Message)
	}
}

func TestPauseRequest(t *testing.T) {
	raw := PauseRequest(9223372036854775806)

	m, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq != 9223372036854775806 {
		t.Errorf("seq = %d", m.Seq)
	}
	if m.Type != TypeRequest || m.Command != CommandPause {
		t.Errorf("envelope = %+v", m)
	}

	var obj struct {
		Arguments struct {
			ThreadID int `json:"threadId"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatal(err)
	}
	if obj.Arguments.ThreadID != 1 {
		t.Errorf("threadId = %d, want 1", obj.Arguments.ThreadID)
	}
}
