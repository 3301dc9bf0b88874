// Package protocol models the DAP messages crossing the relay.
//
// Messages are carried as raw JSON so unrecognized fields survive the
// trip untouched; only the handful of top-level fields the relay routes
// on are parsed into the Message envelope. Rewrites decode the full
// object, mutate it, and re-marshal, so they are the only operations
// that touch fields the relay does not recognize.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Commands the relay routes on. Everything else passes through verbatim.
const (
	CommandInitialize        = "initialize"
	CommandAttach            = "attach"
	CommandContinue          = "continue"
	CommandPause             = "pause"
	CommandConfigurationDone = "configurationDone"
	CommandVariables         = "variables"
	CommandDisconnect        = "disconnect"
)

// Events and stop reasons the relay routes on.
const (
	EventStopped   = "stopped"
	EventContinued = "continued"

	StopReasonStep       = "step"
	StopReasonPause      = "pause"
	StopReasonBreakpoint = "breakpoint"
)

// NoRequestSeq marks a message carrying no response correlation.
// An absent or negative request_seq can never match a real request.
const NoRequestSeq int64 = -1

// Message is one DAP wire message: the raw payload plus the recognized
// top-level fields. Raw is authoritative; the parsed fields are a
// routing view and must not be mutated independently of it.
type Message struct {
	Raw []byte

	Seq        int64
	Type       string
	Command    string
	Event      string
	RequestSeq int64
	Success    bool

	// StopReason is body.reason, populated for stopped events only.
	StopReason string
}

// probe mirrors the recognized top-level fields. Body is kept raw so a
// non-object body in an unknown message cannot fail the whole parse.
type probe struct {
	Seq        *int64          `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Event      string          `json:"event"`
	RequestSeq *int64          `json:"request_seq"`
	Success    bool            `json:"success"`
	Body       json.RawMessage `json:"body"`
}

type bodyProbe struct {
	Reason string `json:"reason"`
}

// Parse decodes the recognized fields of a raw DAP message.
func Parse(raw []byte) (*Message, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	m := &Message{
		Raw:        raw,
		Type:       p.Type,
		Command:    p.Command,
		Event:      p.Event,
		RequestSeq: NoRequestSeq,
	}
	if p.Seq != nil {
		m.Seq = *p.Seq
	}
	if p.RequestSeq != nil && *p.RequestSeq >= 0 {
		m.RequestSeq = *p.RequestSeq
	}
	m.Success = p.Success

	if m.Event == EventStopped && len(p.Body) > 0 && p.Body[0] == '{' {
		var b bodyProbe
		if err := json.Unmarshal(p.Body, &b); err == nil {
			m.StopReason = b.Reason
		}
	}
	return m, nil
}

// IsStopped reports whether the message is a stopped event with the
// given reason.
func (m *Message) IsStopped(reason string) bool {
	return m.Event == EventStopped && m.StopReason == reason
}

// HasRequestSeq reports whether the message correlates to a request.
func (m *Message) HasRequestSeq() bool {
	return m.RequestSeq != NoRequestSeq
}
