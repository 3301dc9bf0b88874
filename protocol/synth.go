package protocol

import (
	"encoding/json"

	dap "github.com/google/go-dap"
)

// requestEnvelope and responseEnvelope are the wire shapes of messages
// the relay mints itself. Synthetic messages are the only ones built
// from typed structs; everything relayed passes through as raw bytes.
type requestEnvelope struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

type responseEnvelope struct {
	Seq        int64  `json:"seq"`
	RequestSeq int64  `json:"request_seq"`
	Type       string `json:"type"`
	Command    string `json:"command"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Body       any    `json:"body,omitempty"`
}

// initializeCapabilities is the canned capability payload answered on
// the backend's behalf. supportsDebuggerProperties is a backend
// extension absent from the DAP schema, hence the wrapper.
type initializeCapabilities struct {
	dap.Capabilities
	SupportsDebuggerProperties bool `json:"supportsDebuggerProperties,omitempty"`
}

// capabilities the backend endpoint actually honors.
var cannedCapabilities = initializeCapabilities{
	Capabilities: dap.Capabilities{
		SupportsModulesRequest:            true,
		SupportsConfigurationDoneRequest:  true,
		SupportsDelayedStackTraceLoading:  true,
		SupportsEvaluateForHovers:         true,
		SupportsSetExpression:             true,
		SupportsGotoTargetsRequest:        true,
		SupportsExceptionOptions:          true,
		SupportsCompletionsRequest:        true,
		SupportsExceptionInfoRequest:      true,
		SupportsLogPoints:                 true,
		SupportsValueFormattingOptions:    true,
		SupportsHitConditionalBreakpoints: true,
		SupportsSetVariable:               true,
		SupportTerminateDebuggee:          true,
		SupportsConditionalBreakpoints:    true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{Filter: "raised", Label: "Raised Exceptions", Default: false},
			{Filter: "uncaught", Label: "Uncaught Exceptions", Default: true},
		},
	},
	SupportsDebuggerProperties: true,
}

// InitializeResponse builds the canned success response answering a
// front-end initialize request without backend involvement.
func InitializeResponse(seq, requestSeq int64) []byte {
	return mustMarshal(responseEnvelope{
		Seq:        seq,
		RequestSeq: requestSeq,
		Type:       TypeResponse,
		Command:    CommandInitialize,
		Success:    true,
		Body:       cannedCapabilities,
	})
}

// ErrorResponse builds a failed response for a front-end request, used
// to surface session-fatal attach errors in the front-end's own
// error-reporting convention.
func ErrorResponse(seq, requestSeq int64, command, message string) []byte {
	return mustMarshal(responseEnvelope{
		Seq:        seq,
		RequestSeq: requestSeq,
		Type:       TypeResponse,
		Command:    command,
		Success:    false,
		Message:    message,
	})
}

// PauseRequest builds the synthetic pause request injected toward the
// backend during stall recovery. The seq must come from the artificial
// pool so it can never collide with a front-end-issued one.
func PauseRequest(seq int64) []byte {
	return mustMarshal(requestEnvelope{
		Seq:     seq,
		Type:    TypeRequest,
		Command: CommandPause,
		Arguments: dap.PauseArguments{
			ThreadId: 1,
		},
	})
}

// mustMarshal serializes a relay-built message. The envelope types
// contain nothing that can fail to marshal.
func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
