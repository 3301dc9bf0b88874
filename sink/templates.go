package sink

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/maxdap-io/maxdap/winpath"
)

// The bootstrap code is embedded at build time so the binary is
// self-contained: no separate script installation on the machine
// running the relay.

//go:embed templates/attach.py
var attachSource string

//go:embed templates/run.py
var runSource string

var (
	attachTemplate = template.Must(template.New("attach").Parse(attachSource))
	runTemplate    = template.Must(template.New("run").Parse(runSource))
)

// AttachParams parameterizes the bootstrap that starts the debug
// listener inside the target process.
type AttachParams struct {
	// DebuggerPath is the directory on the target machine holding the
	// bundled debugger package.
	DebuggerPath string
	// Host and Port are where the debug listener accepts the relay's
	// backend connection.
	Host string
	Port int
}

// AttachCode renders the bootstrap snippet that injects the debugger
// into the target process and opens its listener socket.
func AttachCode(p AttachParams) (string, error) {
	var b strings.Builder
	if err := attachTemplate.Execute(&b, p); err != nil {
		return "", fmt.Errorf("rendering attach code: %w", err)
	}
	return b.String(), nil
}

// RunCode renders the snippet that imports (or reloads) the debugged
// program module under the debugger's control and touches the marker
// file when it finishes. Program is a Windows path on the target
// machine; marker must also be a target-machine path.
func RunCode(program, marker string) (string, error) {
	module := winpath.Stem(program)
	if module == "" {
		return "", fmt.Errorf("cannot derive module name from program path %q", program)
	}
	var b strings.Builder
	err := runTemplate.Execute(&b, struct {
		Dir    string
		Module string
		Marker string
	}{
		Dir:    winpath.Dir(program),
		Module: module,
		Marker: marker,
	})
	if err != nil {
		return "", fmt.Errorf("rendering run code: %w", err)
	}
	return b.String(), nil
}
