package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxdap-io/maxdap/log"
	"github.com/maxdap-io/maxdap/metrics"
	"github.com/maxdap-io/maxdap/protocol"
	"github.com/maxdap-io/maxdap/sink"
)

type fakeFrontEnd struct {
	mu       sync.Mutex
	sent     [][]byte
	sendOpen bool
	closed   bool
}

func newFakeFrontEnd() *fakeFrontEnd {
	return &fakeFrontEnd{sendOpen: true}
}

func (f *fakeFrontEnd) Send(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendOpen {
		f.sent = append(f.sent, raw)
	}
}

func (f *fakeFrontEnd) CloseSend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendOpen = false
}

func (f *fakeFrontEnd) Drained() bool { return true }

func (f *fakeFrontEnd) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeFrontEnd) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeBackend struct {
	mu         sync.Mutex
	sent       [][]byte
	host       string
	port       int
	connectErr error
	connected  bool
	closed     bool
}

func (b *fakeBackend) Send(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, raw)
}

func (b *fakeBackend) Connect(host string, port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.host, b.port, b.connected = host, port, true
	return nil
}

func (b *fakeBackend) CloseSend() {}

func (b *fakeBackend) Drained() bool { return true }

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBackend) messages() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.sent))
	copy(out, b.sent)
	return out
}

type fakeSink struct {
	mu        sync.Mutex
	injected  []string
	injectErr error
	completed chan struct{}
	stopped   bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{completed: make(chan struct{})}
}

func (s *fakeSink) Inject(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectErr != nil {
		return s.injectErr
	}
	s.injected = append(s.injected, code)
	return nil
}

func (s *fakeSink) Completion() <-chan struct{} { return s.completed }

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeSink) injections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.injected))
	copy(out, s.injected)
	return out
}

type harness struct {
	fe      *fakeFrontEnd
	be      *fakeBackend
	snk     *fakeSink
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fe:  newFakeFrontEnd(),
		be:  &fakeBackend{},
		snk: newFakeSink(),
	}
	h.session = NewSession(Config{
		Defaults:     protocol.AttachConfig{Host: "localhost", Port: 5678},
		DebuggerPath: `C:\maxdap\debugger`,
		MarkerPath:   `C:\temp\maxdap-finished.txt`,
	}, h.fe, h.be, func() (sink.Sink, error) { return h.snk, nil }, log.NewNop(), metrics.NewCollector("test"))
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const attachRequest = `{
	"seq": 2, "type": "request", "command": "attach",
	"arguments": {
		"program": "C:\\scripts\\job.py",
		"ptvsd": {"host": "127.0.0.1", "port": 9100}
	}
}`

// attach drives a complete attach sequence and waits for it to settle.
func (h *harness) attach(t *testing.T) {
	t.Helper()
	h.session.OnFrontendMessage([]byte(attachRequest))
	waitFor(t, "backend connect", func() bool {
		h.be.mu.Lock()
		defer h.be.mu.Unlock()
		return h.be.connected
	})
}

func TestSession_InitializeAnsweredLocally(t *testing.T) {
	h := newHarness(t)

	h.session.OnFrontendMessage([]byte(`{"seq":1,"type":"request","command":"initialize","arguments":{"adapterID":"maxdap"}}`))

	if got := len(h.be.messages()); got != 0 {
		t.Fatalf("initialize reached the backend (%d messages)", got)
	}

	msgs := h.fe.messages()
	if len(msgs) != 1 {
		t.Fatalf("front-end got %d messages, want 1", len(msgs))
	}
	m, err := protocol.Parse(msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if m.Command != protocol.CommandInitialize || !m.Success || m.RequestSeq != 1 {
		t.Errorf("synthetic response = %+v", m)
	}
}

func TestSession_LateBackendInitializeReplyDropped(t *testing.T) {
	h := newHarness(t)
	h.session.OnFrontendMessage([]byte(`{"seq":1,"type":"request","command":"initialize"}`))
	before := len(h.fe.messages())

	// A confused backend answering the request it never saw.
	h.session.OnBackendMessage([]byte(`{"seq":90,"type":"response","request_seq":1,"command":"initialize","success":true}`))

	if got := len(h.fe.messages()); got != before {
		t.Errorf("late backend reply reached the front-end")
	}
}

func TestSession_AttachRewritesAndConnects(t *testing.T) {
	h := newHarness(t)
	h.attach(t)

	if h.be.host != "127.0.0.1" || h.be.port != 9100 {
		t.Errorf("connected to %s:%d, want 127.0.0.1:9100", h.be.host, h.be.port)
	}

	msgs := h.be.messages()
	if len(msgs) != 1 {
		t.Fatalf("backend got %d messages, want 1", len(msgs))
	}
	var obj struct {
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(msgs[0], &obj); err != nil {
		t.Fatal(err)
	}
	if obj.Arguments["host"] != "127.0.0.1" || obj.Arguments["port"] != float64(9100) {
		t.Errorf("rewritten arguments = %v", obj.Arguments)
	}
	if _, nested := obj.Arguments["ptvsd"]; nested {
		t.Error("nested ptvsd block survived the rewrite")
	}

	injections := h.snk.injections()
	if len(injections) != 1 {
		t.Fatalf("sink got %d injections, want 1 (attach bootstrap)", len(injections))
	}
	if !strings.Contains(injections[0], "ptvsd.enable_attach") {
		t.Errorf("first injection should be the attach bootstrap:\n%s", injections[0])
	}
}

func TestSession_ConfigurationDoneStartsProgram(t *testing.T) {
	h := newHarness(t)
	h.attach(t)

	h.session.OnBackendMessage([]byte(`{"seq":30,"type":"response","request_seq":8,"command":"configurationDone","success":true}`))

	waitFor(t, "run code injection", func() bool { return len(h.snk.injections()) == 2 })

	run := h.snk.injections()[1]
	if !strings.Contains(run, "import job") {
		t.Errorf("run code should import the program module:\n%s", run)
	}

	// The response itself still reaches the front-end.
	found := false
	for _, raw := range h.fe.messages() {
		m, _ := protocol.Parse(raw)
		if m != nil && m.Command == protocol.CommandConfigurationDone {
			found = true
		}
	}
	if !found {
		t.Error("configurationDone response was not forwarded")
	}

	// A second configurationDone must not rerun the program.
	h.session.OnBackendMessage([]byte(`{"seq":31,"type":"response","request_seq":9,"command":"configurationDone","success":true}`))
	time.Sleep(20 * time.Millisecond)
	if got := len(h.snk.injections()); got != 2 {
		t.Errorf("run code injected %d times, want once", got-1)
	}
}

func TestSession_AttachFailure(t *testing.T) {
	h := newHarness(t)
	h.be.connectErr = errors.New("connection refused")

	h.session.OnFrontendMessage([]byte(attachRequest))

	select {
	case <-h.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after attach failure")
	}

	var failed *protocol.Message
	for _, raw := range h.fe.messages() {
		m, _ := protocol.Parse(raw)
		if m != nil && m.Command == protocol.CommandAttach && !m.Success {
			failed = m
		}
	}
	if failed == nil {
		t.Fatal("front-end never saw a failed attach response")
	}
	if failed.RequestSeq != 2 {
		t.Errorf("request_seq = %d, want 2", failed.RequestSeq)
	}
	if h.session.Err() == nil {
		t.Error("Err() should report the attach failure")
	}
}

func TestSession_SinkFactoryFailure(t *testing.T) {
	fe := newFakeFrontEnd()
	be := &fakeBackend{}
	target := &sink.TargetNotFoundError{Title: "Autodesk 3ds Max"}
	s := NewSession(Config{
		Defaults: protocol.AttachConfig{Host: "localhost", Port: 5678},
	}, fe, be, func() (sink.Sink, error) { return nil, target }, log.NewNop(), metrics.NewCollector("test"))

	s.OnFrontendMessage([]byte(attachRequest))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after sink failure")
	}

	if !sink.IsTargetNotFound(s.Err()) {
		t.Errorf("Err() = %v, want TargetNotFoundError", s.Err())
	}
}

func TestSession_PassthroughBothDirections(t *testing.T) {
	h := newHarness(t)

	req := `{"seq":5,"type":"request","command":"setBreakpoints","arguments":{"lines":[3]}}`
	h.session.OnFrontendMessage([]byte(req))

	msgs := h.be.messages()
	if len(msgs) != 1 || string(msgs[0]) != req {
		t.Errorf("request not forwarded verbatim: %q", msgs)
	}

	ev := `{"seq":50,"type":"event","event":"output","body":{"output":"hi"}}`
	h.session.OnBackendMessage([]byte(ev))

	got := h.fe.messages()
	if len(got) != 1 || string(got[0]) != ev {
		t.Errorf("event not forwarded verbatim: %q", got)
	}
}

func TestSession_MalformedMessagesDropped(t *testing.T) {
	h := newHarness(t)

	h.session.OnFrontendMessage([]byte("not json"))
	h.session.OnBackendMessage([]byte("{broken"))

	if len(h.fe.messages()) != 0 || len(h.be.messages()) != 0 {
		t.Error("malformed messages must be dropped, not forwarded")
	}
}

func stoppedEvent(seq int64, reason string) []byte {
	return fmt.Appendf(nil, `{"seq":%d,"type":"event","event":"stopped","body":{"reason":"%s","threadId":1}}`, seq, reason)
}

func TestSession_StallRecovery(t *testing.T) {
	h := newHarness(t)

	// Spurious step-stop: swallowed, answered with a synthetic pause.
	h.session.OnBackendMessage(stoppedEvent(40, "step"))

	if len(h.fe.messages()) != 0 {
		t.Fatal("spurious step-stop reached the front-end")
	}
	pauses := h.be.messages()
	if len(pauses) != 1 {
		t.Fatalf("backend got %d messages, want 1 pause", len(pauses))
	}
	pause, err := protocol.Parse(pauses[0])
	if err != nil {
		t.Fatal(err)
	}
	if pause.Command != protocol.CommandPause {
		t.Fatalf("synthetic request = %+v", pause)
	}
	if pause.Seq < 1<<32 {
		t.Errorf("artificial seq %d not above the collision floor", pause.Seq)
	}

	// Backend acknowledges the pause; the reply stays internal.
	ack := fmt.Sprintf(`{"seq":41,"type":"response","request_seq":%d,"command":"pause","success":true}`, pause.Seq)
	h.session.OnBackendMessage([]byte(ack))
	if len(h.fe.messages()) != 0 {
		t.Fatal("synthetic pause acknowledgement reached the front-end")
	}

	// The forced pause stop arrives disguised as a step.
	h.session.OnBackendMessage(stoppedEvent(42, "pause"))

	msgs := h.fe.messages()
	if len(msgs) != 1 {
		t.Fatalf("front-end got %d messages, want 1", len(msgs))
	}
	m, err := protocol.Parse(msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsStopped(protocol.StopReasonStep) {
		t.Errorf("forwarded stop reason = %q, want step", m.StopReason)
	}
	if m.Seq != 42 {
		t.Errorf("seq = %d, want the backend's own 42", m.Seq)
	}
}

func TestSession_StallRecoveryRefused(t *testing.T) {
	h := newHarness(t)

	h.session.OnBackendMessage(stoppedEvent(40, "step"))
	pause, _ := protocol.Parse(h.be.messages()[0])

	refusal := fmt.Sprintf(`{"seq":41,"type":"response","request_seq":%d,"command":"pause","success":false}`, pause.Seq)
	h.session.OnBackendMessage([]byte(refusal))

	// No recovery pending: a later genuine pause stop passes through
	// with its own reason.
	h.session.OnBackendMessage(stoppedEvent(42, "pause"))

	msgs := h.fe.messages()
	if len(msgs) != 1 {
		t.Fatalf("front-end got %d messages, want 1", len(msgs))
	}
	m, _ := protocol.Parse(msgs[0])
	if !m.IsStopped(protocol.StopReasonPause) {
		t.Errorf("stop reason = %q, want pause (no rewrite after refusal)", m.StopReason)
	}
}

func TestSession_ArtificialSeqsStrictlyDecrease(t *testing.T) {
	h := newHarness(t)

	h.session.OnBackendMessage(stoppedEvent(40, "step"))
	h.session.OnBackendMessage(stoppedEvent(41, "step"))

	msgs := h.be.messages()
	if len(msgs) != 2 {
		t.Fatalf("backend got %d messages, want 2 pauses", len(msgs))
	}
	first, _ := protocol.Parse(msgs[0])
	second, _ := protocol.Parse(msgs[1])
	if second.Seq >= first.Seq {
		t.Errorf("artificial seqs not strictly decreasing: %d then %d", first.Seq, second.Seq)
	}
}

func TestSession_ContinueStallAvoidance(t *testing.T) {
	h := newHarness(t)

	h.session.OnFrontendMessage([]byte(`{"seq":6,"type":"request","command":"continue","arguments":{"threadId":1}}`))

	// Premature breakpoint stop: held back.
	h.session.OnBackendMessage(stoppedEvent(60, "breakpoint"))
	if len(h.fe.messages()) != 0 {
		t.Fatal("breakpoint stop forwarded before the continued event")
	}

	// The continued event releases it, in the conformant order.
	h.session.OnBackendMessage([]byte(`{"seq":61,"type":"event","event":"continued","body":{"threadId":1}}`))

	msgs := h.fe.messages()
	if len(msgs) != 2 {
		t.Fatalf("front-end got %d messages, want 2", len(msgs))
	}
	first, _ := protocol.Parse(msgs[0])
	second, _ := protocol.Parse(msgs[1])
	if first.Event != protocol.EventContinued {
		t.Errorf("first forwarded event = %q, want continued", first.Event)
	}
	if !second.IsStopped(protocol.StopReasonBreakpoint) {
		t.Errorf("second forwarded event = %+v, want the stashed breakpoint stop", second)
	}

	// Avoidance is over: further breakpoint stops flow directly.
	h.session.OnBackendMessage(stoppedEvent(62, "breakpoint"))
	if len(h.fe.messages()) != 3 {
		t.Error("breakpoint stop after release should pass through")
	}
}

func TestSession_StashLastWriteWins(t *testing.T) {
	h := newHarness(t)

	h.session.OnFrontendMessage([]byte(`{"seq":6,"type":"request","command":"continue"}`))
	h.session.OnBackendMessage(stoppedEvent(60, "breakpoint"))
	h.session.OnBackendMessage(stoppedEvent(61, "breakpoint"))
	h.session.OnBackendMessage([]byte(`{"seq":62,"type":"event","event":"continued"}`))

	msgs := h.fe.messages()
	if len(msgs) != 2 {
		t.Fatalf("front-end got %d messages, want 2", len(msgs))
	}
	released, _ := protocol.Parse(msgs[1])
	if released.Seq != 61 {
		t.Errorf("released stash seq = %d, want the newer 61", released.Seq)
	}
}

func TestSession_ContinueAvoidanceDoesNotHoldOtherStops(t *testing.T) {
	h := newHarness(t)

	h.session.OnFrontendMessage([]byte(`{"seq":6,"type":"request","command":"continue"}`))
	// An exception stop is not a breakpoint stop; it passes through
	// even during avoidance.
	h.session.OnBackendMessage(stoppedEvent(60, "exception"))

	if len(h.fe.messages()) != 1 {
		t.Error("non-breakpoint stop should not be stashed")
	}
}

func TestSession_VariablesFiltered(t *testing.T) {
	h := newHarness(t)

	h.session.OnBackendMessage([]byte(`{
		"seq": 70, "type": "response", "request_seq": 12, "command": "variables", "success": true,
		"body": {"variables": [
			{"name": "__builtins__", "value": "module"},
			{"name": "x", "value": "1"}
		]}
	}`))

	msgs := h.fe.messages()
	if len(msgs) != 1 {
		t.Fatalf("front-end got %d messages, want 1", len(msgs))
	}
	var obj struct {
		Body struct {
			Variables []map[string]any `json:"variables"`
		} `json:"body"`
	}
	if err := json.Unmarshal(msgs[0], &obj); err != nil {
		t.Fatal(err)
	}
	if len(obj.Body.Variables) != 1 || obj.Body.Variables[0]["name"] != "x" {
		t.Errorf("variables = %v, want only x", obj.Body.Variables)
	}
}

func TestSession_CompletionTriggersDisconnect(t *testing.T) {
	h := newHarness(t)
	h.attach(t)

	close(h.snk.completed)

	select {
	case <-h.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("completion signal did not end the session")
	}

	h.be.mu.Lock()
	beClosed := h.be.closed
	h.be.mu.Unlock()
	if !beClosed {
		t.Error("backend not closed on disconnect")
	}

	h.snk.mu.Lock()
	stopped := h.snk.stopped
	h.snk.mu.Unlock()
	if !stopped {
		t.Error("sink watcher not stopped on disconnect")
	}

	h.fe.mu.Lock()
	feClosed := h.fe.closed
	h.fe.mu.Unlock()
	if !feClosed {
		t.Error("front-end not closed on disconnect")
	}

	if h.session.Err() != nil {
		t.Errorf("clean completion should leave Err() nil, got %v", h.session.Err())
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	h := newHarness(t)
	h.session.Disconnect()
	h.session.Disconnect()

	select {
	case <-h.session.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Disconnect")
	}
}
