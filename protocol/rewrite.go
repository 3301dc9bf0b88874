package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/maxdap-io/maxdap/winpath"
)

// AttachConfig is the debugging target configuration carried by an
// attach request: where the backend endpoint will listen and which
// program file is being debugged on the target machine.
type AttachConfig struct {
	Host    string
	Port    int
	Program string
}

// attachArguments is the nested front-end dialect of attach arguments.
type attachArguments struct {
	Program string `json:"program"`
	Ptvsd   struct {
		Host string          `json:"host"`
		Port json.RawMessage `json:"port"`
	} `json:"ptvsd"`
}

// ParseAttachArguments extracts the attach configuration from a
// front-end attach request, filling gaps from defaults. The port may
// arrive as a number or a string; both forms occur in the wild.
func ParseAttachArguments(m *Message, defaults AttachConfig) (AttachConfig, error) {
	var envelope struct {
		Arguments attachArguments `json:"arguments"`
	}
	if err := json.Unmarshal(m.Raw, &envelope); err != nil {
		return AttachConfig{}, fmt.Errorf("malformed attach arguments: %w", err)
	}

	cfg := defaults
	args := envelope.Arguments
	if args.Program != "" {
		cfg.Program = args.Program
	}
	if args.Ptvsd.Host != "" {
		cfg.Host = args.Ptvsd.Host
	}
	if len(args.Ptvsd.Port) > 0 {
		port, err := parsePort(args.Ptvsd.Port)
		if err != nil {
			return AttachConfig{}, err
		}
		cfg.Port = port
	}

	if cfg.Program == "" {
		return AttachConfig{}, fmt.Errorf("attach request carries no program path")
	}
	if cfg.Host == "" || cfg.Port == 0 {
		return AttachConfig{}, fmt.Errorf("attach request carries no debug endpoint address")
	}
	return cfg, nil
}

func parsePort(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("invalid debug port %s", raw)
}

// RewriteAttachArguments replaces the nested front-end attach arguments
// with the flat shape the backend endpoint expects: host, port, path
// mappings rooted at the program directory, and the backend-specific
// debug-file field. All other top-level fields of the request survive
// untouched.
func RewriteAttachArguments(m *Message, cfg AttachConfig) (*Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(m.Raw, &obj); err != nil {
		return nil, fmt.Errorf("malformed attach request: %w", err)
	}

	dir := winpath.Dir(cfg.Program)
	obj["arguments"] = map[string]any{
		"name":    "3ds Max Python Debugger: Remote Attach",
		"type":    "python",
		"request": "attach",
		"host":    cfg.Host,
		"port":    cfg.Port,
		"pathMappings": []map[string]string{
			{"localRoot": dir, "remoteRoot": dir},
		},
		"MaxDebugFile": cfg.Program,
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encoding attach request: %w", err)
	}
	return Parse(raw)
}

// RewriteStopReason returns a copy of a stopped event with body.reason
// replaced, preserving every other field.
func RewriteStopReason(m *Message, reason string) (*Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(m.Raw, &obj); err != nil {
		return nil, fmt.Errorf("malformed stopped event: %w", err)
	}
	body, ok := obj["body"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stopped event carries no body object")
	}
	body["reason"] = reason

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encoding stopped event: %w", err)
	}
	return Parse(raw)
}

// hiddenVariables are backend-internal module attributes that break the
// front-end's variable views.
var hiddenVariables = map[string]struct{}{
	"__builtins__": {},
	"__doc__":      {},
	"__file__":     {},
	"__name__":     {},
	"__package__":  {},
}

// FilterVariables removes backend-internal entries from a variables
// response body. Returns the (possibly rewritten) message and whether a
// rewrite happened; when nothing was removed the original message is
// returned unchanged, raw bytes included.
func FilterVariables(m *Message) (*Message, bool, error) {
	var obj map[string]any
	if err := json.Unmarshal(m.Raw, &obj); err != nil {
		return nil, false, fmt.Errorf("malformed variables response: %w", err)
	}
	body, ok := obj["body"].(map[string]any)
	if !ok {
		return m, false, nil
	}
	vars, ok := body["variables"].([]any)
	if !ok {
		return m, false, nil
	}

	kept := make([]any, 0, len(vars))
	for _, v := range vars {
		entry, ok := v.(map[string]any)
		if ok {
			if name, _ := entry["name"].(string); name != "" {
				if _, hidden := hiddenVariables[name]; hidden {
					continue
				}
			}
		}
		kept = append(kept, v)
	}
	if len(kept) == len(vars) {
		return m, false, nil
	}

	body["variables"] = kept
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, false, fmt.Errorf("re-encoding variables response: %w", err)
	}
	rewritten, err := Parse(raw)
	if err != nil {
		return nil, false, err
	}
	return rewritten, true, nil
}
