// Package metrics provides per-session relay metrics collection.
//
// The Collector accumulates counters during a single relay session. It
// is a leaf package with no internal dependencies. A snapshot is logged
// at disconnect; nothing is exported live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Traffic
	FrontendReceived    int64
	BackendReceived     int64
	ForwardedToFrontend int64
	ForwardedToBackend  int64

	// Synthetic handling
	SyntheticResponses int64
	ProcessedDropped   int64
	DecodeErrors       int64

	// Stall recovery
	StallsDetected        int64
	StallsRecovered       int64
	StallRecoveryFailures int64

	// Continue-stall avoidance
	EventsStashed      int64
	StashesOverwritten int64
	StashesReleased    int64

	// Dimensions (informational, set at construction)
	SessionID string
	Program   string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	frontendReceived    int64
	backendReceived     int64
	forwardedToFrontend int64
	forwardedToBackend  int64

	syntheticResponses int64
	processedDropped   int64
	decodeErrors       int64

	stallsDetected        int64
	stallsRecovered       int64
	stallRecoveryFailures int64

	eventsStashed      int64
	stashesOverwritten int64
	stashesReleased    int64

	sessionID string
	program   string
}

// NewCollector creates a Collector with dimension labels. The program
// dimension may be empty until an attach request arrives; use SetProgram
// once it is known.
func NewCollector(sessionID string) *Collector {
	return &Collector{sessionID: sessionID}
}

// SetProgram records the program path dimension once the attach request
// reveals it.
func (c *Collector) SetProgram(program string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.program = program
	c.mu.Unlock()
}

// --- Traffic ---

// IncFrontendReceived records one message received from the front-end.
func (c *Collector) IncFrontendReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frontendReceived++
	c.mu.Unlock()
}

// IncBackendReceived records one message received from the backend.
func (c *Collector) IncBackendReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.backendReceived++
	c.mu.Unlock()
}

// IncForwardedToFrontend records one message forwarded to the front-end.
func (c *Collector) IncForwardedToFrontend() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.forwardedToFrontend++
	c.mu.Unlock()
}

// IncForwardedToBackend records one message forwarded to the backend.
func (c *Collector) IncForwardedToBackend() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.forwardedToBackend++
	c.mu.Unlock()
}

// --- Synthetic handling ---

// IncSyntheticResponses records a request answered by the relay itself.
func (c *Collector) IncSyntheticResponses() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.syntheticResponses++
	c.mu.Unlock()
}

// IncProcessedDropped records a backend message dropped because its
// request was already answered synthetically.
func (c *Collector) IncProcessedDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processedDropped++
	c.mu.Unlock()
}

// IncDecodeErrors records a single-message decode failure (the message
// is dropped, the connection survives).
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// --- Stall recovery ---

// IncStallsDetected records a spurious step-stop swallowed and answered
// with a synthetic pause request.
func (c *Collector) IncStallsDetected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stallsDetected++
	c.mu.Unlock()
}

// IncStallsRecovered records a forced pause successfully disguised as a
// step-stop.
func (c *Collector) IncStallsRecovered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stallsRecovered++
	c.mu.Unlock()
}

// IncStallRecoveryFailures records a synthetic pause the backend refused.
func (c *Collector) IncStallRecoveryFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stallRecoveryFailures++
	c.mu.Unlock()
}

// --- Continue-stall avoidance ---

// IncEventsStashed records a breakpoint stop held back until the
// matching continued event.
func (c *Collector) IncEventsStashed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsStashed++
	c.mu.Unlock()
}

// IncStashesOverwritten records a stashed event discarded by a newer one.
func (c *Collector) IncStashesOverwritten() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stashesOverwritten++
	c.mu.Unlock()
}

// IncStashesReleased records a stashed event flushed after its
// continued event.
func (c *Collector) IncStashesReleased() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stashesReleased++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FrontendReceived:    c.frontendReceived,
		BackendReceived:     c.backendReceived,
		ForwardedToFrontend: c.forwardedToFrontend,
		ForwardedToBackend:  c.forwardedToBackend,

		SyntheticResponses: c.syntheticResponses,
		ProcessedDropped:   c.processedDropped,
		DecodeErrors:       c.decodeErrors,

		StallsDetected:        c.stallsDetected,
		StallsRecovered:       c.stallsRecovered,
		StallRecoveryFailures: c.stallRecoveryFailures,

		EventsStashed:      c.eventsStashed,
		StashesOverwritten: c.stashesOverwritten,
		StashesReleased:    c.stashesReleased,

		SessionID: c.sessionID,
		Program:   c.program,
	}
}
