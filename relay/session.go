// Package relay implements the translation engine between the
// front-end's DAP dialect and the backend debug endpoint's, hiding the
// backend's protocol anomalies from the front-end.
//
// A Session owns all cross-cutting state. Messages are inspected on
// both receive paths; most pass through verbatim, a few are rewritten,
// held back, dropped, or answered by the relay itself:
//
//   - initialize is answered locally with a canned capability payload
//     and never reaches the backend.
//   - attach arguments are rewritten from the nested front-end shape to
//     the flat backend shape, and the attach sequence (target
//     discovery, bootstrap injection, backend dial) runs alongside.
//   - spurious stopped/step events are swallowed and answered with a
//     synthetic pause request; the forced stopped/pause coming back is
//     re-labeled as a step so the front-end never sees the glitch.
//   - after a continue request, a premature stopped/breakpoint is
//     stashed and replayed only after the continued event, so the
//     front-end always observes them in the conformant order.
package relay

import (
	"math"
	"sync"
	"time"

	"github.com/maxdap-io/maxdap/log"
	"github.com/maxdap-io/maxdap/metrics"
	"github.com/maxdap-io/maxdap/protocol"
	"github.com/maxdap-io/maxdap/sink"
)

// FrontEnd is the channel to the debugging client.
type FrontEnd interface {
	Send(raw []byte)
	CloseSend()
	Drained() bool
	Close()
}

// Backend is the connection to the debug endpoint.
type Backend interface {
	Send(raw []byte)
	Connect(host string, port int) error
	CloseSend()
	Drained() bool
	Close()
}

// SinkFactory creates the execution sink during the attach sequence.
// Target discovery happens here, so a missing target fails the attach,
// not session construction.
type SinkFactory func() (sink.Sink, error)

// Artificial seq pool bounds. Seqs are minted downward from the
// ceiling; front-end seqs start at 1 and count up, so anything above
// the floor can never collide with a real one.
const (
	artificialSeqCeiling = math.MaxInt64 - 1
	artificialSeqFloor   = 1 << 32
)

// Disconnect drain policy.
const (
	drainPollInterval = 10 * time.Millisecond
	drainTimeout      = 3 * time.Second
)

// Config configures a Session.
type Config struct {
	// Defaults fill attach-request fields the front-end omits.
	Defaults protocol.AttachConfig
	// DebuggerPath is the target-machine directory holding the bundled
	// debugger package injected by the bootstrap.
	DebuggerPath string
	// MarkerPath is the completion marker the injected run touches.
	MarkerPath string
}

// Session is one relay session between a front-end and a backend. All
// mutable state is owned here and mutated only under mu, from the two
// receive callbacks and the attach goroutines.
type Session struct {
	cfg       Config
	fe        FrontEnd
	be        Backend
	newSink   SinkFactory
	logger    *log.Logger
	collector *metrics.Collector

	mu sync.Mutex

	// processedSeqs holds front-end request seqs the relay answered
	// itself; backend replies correlating to them are dropped.
	processedSeqs map[int64]struct{}

	// Artificial seq pool for relay-minted backend requests, and the
	// pool members still awaiting a backend reply.
	nextArtificialSeq int64
	outstanding       map[int64]struct{}

	// stash holds at most one delayed breakpoint stop during
	// continue-stall avoidance. Last write wins.
	stash *protocol.Message

	// pendingRunCode is staged by attach and consumed once at
	// configurationDone.
	pendingRunCode string

	awaitingStallRecovery bool
	avoidingContinueStall bool

	// syntheticSeq numbers relay-minted front-end-bound messages.
	syntheticSeq int64

	snk sink.Sink

	// failure records the fatal error that ended the session, if any.
	failure error

	attachWG       sync.WaitGroup
	disconnectOnce sync.Once
	done           chan struct{}
}

// NewSession creates a session over the given collaborators.
func NewSession(cfg Config, fe FrontEnd, be Backend, newSink SinkFactory, logger *log.Logger, collector *metrics.Collector) *Session {
	return &Session{
		cfg:               cfg,
		fe:                fe,
		be:                be,
		newSink:           newSink,
		logger:            logger,
		collector:         collector,
		processedSeqs:     make(map[int64]struct{}),
		nextArtificialSeq: artificialSeqCeiling,
		outstanding:       make(map[int64]struct{}),
		done:              make(chan struct{}),
	}
}

// Done is closed once the session has fully disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports the fatal error that ended the session, or nil for a
// clean finish. Valid after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// OnFrontendMessage handles one message from the debugging client.
// Registered as the front-end receive callback.
func (s *Session) OnFrontendMessage(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.logger.Warn("dropping malformed front-end message", map[string]any{
			"error": err.Error(),
		})
		s.collector.IncDecodeErrors()
		return
	}
	s.collector.IncFrontendReceived()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Command {
	case protocol.CommandInitialize:
		// The backend endpoint does not need the front-end's
		// capabilities; answer on its behalf and remember the seq so a
		// stray backend reply can never reach the front-end.
		s.processedSeqs[msg.Seq] = struct{}{}
		s.syntheticSeq++
		s.fe.Send(protocol.InitializeResponse(s.syntheticSeq, msg.Seq))
		s.collector.IncSyntheticResponses()
		return

	case protocol.CommandAttach:
		s.handleAttachLocked(msg)
		return

	case protocol.CommandContinue:
		s.avoidingContinueStall = true
	}

	s.be.Send(msg.Raw)
	s.collector.IncForwardedToBackend()
}

// handleAttachLocked stages the run code, starts the attach sequence,
// and forwards the rewritten request. The rewritten request is queued
// before the backend connection exists; the backend send loop only
// starts after connect succeeds, so ordering holds.
func (s *Session) handleAttachLocked(msg *protocol.Message) {
	cfg, err := protocol.ParseAttachArguments(msg, s.cfg.Defaults)
	if err != nil {
		s.failRequestLocked(msg, err)
		return
	}
	s.collector.SetProgram(cfg.Program)

	runCode, err := sink.RunCode(cfg.Program, s.cfg.MarkerPath)
	if err != nil {
		s.failRequestLocked(msg, err)
		return
	}
	// A re-attach before the previous run code was consumed discards
	// the earlier payload.
	s.pendingRunCode = runCode

	rewritten, err := protocol.RewriteAttachArguments(msg, cfg)
	if err != nil {
		s.failRequestLocked(msg, err)
		return
	}

	s.attachWG.Add(1)
	go s.runAttachSequence(cfg, msg.Seq)

	s.be.Send(rewritten.Raw)
	s.collector.IncForwardedToBackend()
}

// runAttachSequence discovers the target, injects the debugger
// bootstrap, and dials the backend endpoint. Any failure here aborts
// the whole session; there is no partial-attach recovery.
func (s *Session) runAttachSequence(cfg protocol.AttachConfig, requestSeq int64) {
	defer s.attachWG.Done()

	snk, err := s.newSink()
	if err != nil {
		s.abortAttach(requestSeq, err)
		return
	}
	s.mu.Lock()
	s.snk = snk
	s.mu.Unlock()

	code, err := sink.AttachCode(sink.AttachParams{
		DebuggerPath: s.cfg.DebuggerPath,
		Host:         cfg.Host,
		Port:         cfg.Port,
	})
	if err != nil {
		s.abortAttach(requestSeq, err)
		return
	}
	s.logger.Info("sending attach code to target", map[string]any{
		"host": cfg.Host,
		"port": cfg.Port,
	})
	if err := snk.Inject(code); err != nil {
		s.abortAttach(requestSeq, err)
		return
	}

	if err := s.be.Connect(cfg.Host, cfg.Port); err != nil {
		s.abortAttach(requestSeq, err)
		return
	}

	// The completion signal is the only indication the target finished
	// running the injected code; observing it triggers disconnect.
	go func() {
		select {
		case <-snk.Completion():
			s.logger.Info("debugging finished", nil)
			s.Disconnect()
		case <-s.done:
		}
	}()
}

// abortAttach surfaces an attach-sequence failure to the front-end as a
// failed attach response and tears the session down.
func (s *Session) abortAttach(requestSeq int64, err error) {
	s.logger.Error("attach sequence failed", map[string]any{"error": err.Error()})

	s.mu.Lock()
	// A late backend answer to the attach request must not reach the
	// front-end on top of ours.
	s.processedSeqs[requestSeq] = struct{}{}
	s.syntheticSeq++
	seq := s.syntheticSeq
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()

	s.fe.Send(protocol.ErrorResponse(seq, requestSeq, protocol.CommandAttach, err.Error()))
	s.collector.IncSyntheticResponses()
	s.Disconnect()
}

// failRequestLocked answers a front-end request with a failure without
// tearing the session down. Caller holds mu.
func (s *Session) failRequestLocked(msg *protocol.Message, err error) {
	s.logger.Error("rejecting front-end request", map[string]any{
		"command": msg.Command,
		"error":   err.Error(),
	})
	s.processedSeqs[msg.Seq] = struct{}{}
	s.syntheticSeq++
	s.fe.Send(protocol.ErrorResponse(s.syntheticSeq, msg.Seq, msg.Command, err.Error()))
	s.collector.IncSyntheticResponses()
}

// OnBackendMessage handles one message from the debug endpoint.
// Registered as the backend receive callback. Clause order matters and
// mirrors the session's repair pipeline: lifecycle triggers first, then
// stall masking, then continue-stall avoidance, then the default
// forward rule.
func (s *Session) OnBackendMessage(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.logger.Warn("dropping malformed backend message", map[string]any{
			"error": err.Error(),
		})
		s.collector.IncDecodeErrors()
		return
	}
	s.collector.IncBackendReceived()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case msg.Command == protocol.CommandConfigurationDone:
		// Front-end and backend are done setting up; start the actual
		// user code. Fire-and-forget so the receive loop never blocks
		// on the injection.
		s.triggerRunLocked()

	case msg.Command == protocol.CommandVariables:
		if filtered, changed, ferr := protocol.FilterVariables(msg); ferr != nil {
			s.logger.Warn("could not filter variables response", map[string]any{
				"error": ferr.Error(),
			})
		} else if changed {
			msg = filtered
		}

	case msg.IsStopped(protocol.StopReasonStep):
		// The backend often stops on steps for no reason. Mask the
		// glitch and force a clean pause to resynchronize.
		s.logger.Info("stall detected, sending unblocking pause to backend", nil)
		seq, ok := s.mintArtificialSeqLocked()
		if !ok {
			return
		}
		s.outstanding[seq] = struct{}{}
		s.be.Send(protocol.PauseRequest(seq))
		s.collector.IncStallsDetected()
		return

	case msg.HasRequestSeq() && s.isOutstandingLocked(msg.RequestSeq):
		// Reply to a relay-minted request; the front-end never issued
		// this seq and must never see traffic tied to it.
		delete(s.outstanding, msg.RequestSeq)
		if msg.Success {
			s.awaitingStallRecovery = true
		} else {
			s.logger.Warn("stall could not be recovered", nil)
			s.collector.IncStallRecoveryFailures()
		}
		return

	case s.awaitingStallRecovery && msg.IsStopped(protocol.StopReasonPause):
		// The forced pause arrived; present it as the step-stop the
		// front-end expects.
		s.awaitingStallRecovery = false
		rewritten, rerr := protocol.RewriteStopReason(msg, protocol.StopReasonStep)
		if rerr != nil {
			s.logger.Error("could not rewrite forced pause", map[string]any{
				"error": rerr.Error(),
			})
			return
		}
		s.collector.IncStallsRecovered()
		msg = rewritten

	case s.avoidingContinueStall && msg.IsStopped(protocol.StopReasonBreakpoint):
		// Hold until the continued event; forwarding now would reach
		// the front-end before the continue completes.
		if s.stash != nil {
			s.collector.IncStashesOverwritten()
		}
		s.logger.Debug("stashing breakpoint stop until continued event", nil)
		s.stash = msg
		s.collector.IncEventsStashed()
		return

	case s.avoidingContinueStall && msg.Event == protocol.EventContinued:
		s.avoidingContinueStall = false
		s.forwardLocked(msg)
		if s.stash != nil {
			s.logger.Debug("releasing stashed breakpoint stop", nil)
			s.forwardLocked(s.stash)
			s.stash = nil
			s.collector.IncStashesReleased()
		}
		return
	}

	// Default forward rule.
	if msg.HasRequestSeq() {
		if _, processed := s.processedSeqs[msg.RequestSeq]; processed {
			s.logger.Debug("dropping backend reply to already-answered request", map[string]any{
				"request_seq": msg.RequestSeq,
			})
			s.collector.IncProcessedDropped()
			return
		}
	}
	s.forwardLocked(msg)
}

// triggerRunLocked consumes the staged run code and injects it.
// Caller holds mu.
func (s *Session) triggerRunLocked() {
	code := s.pendingRunCode
	s.pendingRunCode = ""
	snk := s.snk
	if code == "" || snk == nil {
		return
	}
	go func() {
		if err := snk.Inject(code); err != nil {
			s.logger.Error("could not start user code", map[string]any{
				"error": err.Error(),
			})
			s.mu.Lock()
			if s.failure == nil {
				s.failure = err
			}
			s.mu.Unlock()
			s.Disconnect()
		}
	}()
}

// mintArtificialSeqLocked takes the next seq from the pool. Exhaustion
// would require 2^63-2^32 stalls in one session; treat it as a fatal
// internal error rather than risk colliding with a front-end seq.
func (s *Session) mintArtificialSeqLocked() (int64, bool) {
	if s.nextArtificialSeq <= artificialSeqFloor {
		s.logger.Error("artificial seq pool exhausted", map[string]any{
			"floor": int64(artificialSeqFloor),
		})
		return 0, false
	}
	seq := s.nextArtificialSeq
	s.nextArtificialSeq--
	return seq, true
}

func (s *Session) isOutstandingLocked(seq int64) bool {
	_, ok := s.outstanding[seq]
	return ok
}

// forwardLocked sends one message to the front-end. Caller holds mu;
// Send only enqueues, so holding the lock across it cannot block on
// I/O.
func (s *Session) forwardLocked(msg *protocol.Message) {
	s.fe.Send(msg.Raw)
	s.collector.IncForwardedToFrontend()
}

// Disconnect tears the session down: both send paths receive their
// close sentinel, the outbound queues are given a bounded interval to
// drain, then the backend socket and front-end channel are closed.
// Safe to call from any goroutine; only the first call acts.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.logger.Info("disconnecting", nil)

		s.fe.CloseSend()
		s.be.CloseSend()

		deadline := time.Now().Add(drainTimeout)
		for time.Now().Before(deadline) {
			if s.fe.Drained() && s.be.Drained() {
				break
			}
			time.Sleep(drainPollInterval)
		}

		s.be.Close()

		s.mu.Lock()
		snk := s.snk
		s.mu.Unlock()
		if snk != nil {
			snk.Stop()
		}

		s.fe.Close()
		close(s.done)

		snap := s.collector.Snapshot()
		s.logger.Info("session closed", map[string]any{
			"program":             snap.Program,
			"frontend_received":   snap.FrontendReceived,
			"backend_received":    snap.BackendReceived,
			"forwarded_frontend":  snap.ForwardedToFrontend,
			"forwarded_backend":   snap.ForwardedToBackend,
			"stalls_detected":     snap.StallsDetected,
			"stalls_recovered":    snap.StallsRecovered,
			"events_stashed":      snap.EventsStashed,
			"stashes_released":    snap.StashesReleased,
			"synthetic_responses": snap.SyntheticResponses,
			"processed_dropped":   snap.ProcessedDropped,
			"decode_errors":       snap.DecodeErrors,
		})
	})
}
