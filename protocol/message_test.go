package protocol

import (
	"bytes"
	"testing"
)

func TestParse_Request(t *testing.T) {
	raw := []byte(`{"seq":12,"type":"request","command":"setBreakpoints","arguments":{"lines":[3]}}`)
	m, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}

	if m.Seq != 12 {
		t.Errorf("Seq = %d, want 12", m.Seq)
	}
	if m.Type != TypeRequest {
		t.Errorf("Type = %q", m.Type)
	}
	if m.Command != "setBreakpoints" {
		t.Errorf("Command = %q", m.Command)
	}
	if m.HasRequestSeq() {
		t.Error("request should carry no request_seq")
	}
	if !bytes.Equal(m.Raw, raw) {
		t.Error("Raw should hold the original bytes")
	}
}

func TestParse_Response(t *testing.T) {
	m, err := Parse([]byte(`{"seq":5,"type":"response","request_seq":4,"command":"continue","success":true}`))
	if err != nil {
		t.Fatal(err)
	}

	if !m.HasRequestSeq() || m.RequestSeq != 4 {
		t.Errorf("RequestSeq = %d, want 4", m.RequestSeq)
	}
	if !m.Success {
		t.Error("Success = false, want true")
	}
}

func TestParse_StoppedEvent(t *testing.T) {
	m, err := Parse([]byte(`{"seq":9,"type":"event","event":"stopped","body":{"reason":"breakpoint","threadId":1}}`))
	if err != nil {
		t.Fatal(err)
	}

	if m.Event != EventStopped {
		t.Errorf("Event = %q", m.Event)
	}
	if m.StopReason != StopReasonBreakpoint {
		t.Errorf("StopReason = %q", m.StopReason)
	}
	if !m.IsStopped(StopReasonBreakpoint) {
		t.Error("IsStopped(breakpoint) = false")
	}
	if m.IsStopped(StopReasonStep) {
		t.Error("IsStopped(step) = true for a breakpoint stop")
	}
}

func TestParse_NonObjectBody(t *testing.T) {
	// Some events carry non-object bodies; they must not fail parsing.
	m, err := Parse([]byte(`{"seq":2,"type":"event","event":"stopped","body":"oops"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.StopReason != "" {
		t.Errorf("StopReason = %q, want empty", m.StopReason)
	}
}

func TestParse_MissingFields(t *testing.T) {
	m, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq != 0 {
		t.Errorf("Seq = %d, want 0", m.Seq)
	}
	if m.HasRequestSeq() {
		t.Error("HasRequestSeq = true for empty object")
	}
}

func TestParse_NegativeRequestSeqIgnored(t *testing.T) {
	m, err := Parse([]byte(`{"seq":1,"type":"response","request_seq":-7}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.HasRequestSeq() {
		t.Error("negative request_seq should not correlate")
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{``, `not json`, `[1,2,3`} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}

func TestParse_ArrayPayload(t *testing.T) {
	if _, err := Parse([]byte(`[1,2,3]`)); err == nil {
		t.Error("Parse of a JSON array should fail")
	}
}
