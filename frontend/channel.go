// Package frontend carries DAP traffic to and from the debugging
// client over an abstract byte channel (process stdio in the reference
// deployment).
package frontend

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/maxdap-io/maxdap/iox"
	"github.com/maxdap-io/maxdap/log"
	"github.com/maxdap-io/maxdap/queue"
	"github.com/maxdap-io/maxdap/wire"
)

// Handler receives one decoded message, raw. Called synchronously from
// the receiving goroutine, in arrival order.
type Handler func(raw []byte)

// Channel is the front-end interface: an ordered exactly-once send path
// and a callback-driven receive path over one byte stream.
type Channel struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer

	logger  *log.Logger
	out     *queue.Queue
	handler Handler

	startOnce sync.Once
	closeOnce sync.Once
	sendDone  chan struct{}
	recvDone  chan struct{}
}

// New creates a channel over the given reader and writer. When closer
// is non-nil, Close uses it to unblock a pending read.
func New(r io.Reader, w io.Writer, closer io.Closer, logger *log.Logger) *Channel {
	return &Channel{
		r:        r,
		w:        w,
		closer:   closer,
		logger:   logger,
		out:      queue.New(),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// NewStdio creates a channel over the process's stdin and stdout.
func NewStdio(logger *log.Logger) *Channel {
	return New(os.Stdin, os.Stdout, os.Stdin, logger)
}

// OnReceive registers the inbound-message callback. Must be called
// before Start.
func (c *Channel) OnReceive(h Handler) {
	c.handler = h
}

// Send enqueues one raw message for ordered, exactly-once delivery.
func (c *Channel) Send(raw []byte) {
	if !c.out.Put(raw) {
		c.logger.Debug("dropped message enqueued after close", nil)
	}
}

// Start launches the send and receive loops.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.sendLoop()
		go c.recvLoop()
	})
}

// sendLoop drains the outbound queue in FIFO order, framing each
// message. The close sentinel is the only way to stop it.
func (c *Channel) sendLoop() {
	defer close(c.sendDone)
	for {
		raw, ok := c.out.Get()
		if !ok {
			return
		}
		if _, err := c.w.Write(wire.Encode(raw)); err != nil {
			c.logger.Warn("front-end write failed (normal on exit)", map[string]any{
				"error": err.Error(),
			})
			return
		}
		c.logger.Debug("sent to front-end", map[string]any{"raw": string(raw)})
	}
}

// recvLoop decodes framed messages and invokes the callback in arrival
// order until the stream ends or fails.
func (c *Channel) recvLoop() {
	defer close(c.recvDone)
	dec := wire.NewDecoder(c.r)
	for {
		raw, err := dec.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				c.logger.Debug("front-end channel closed", nil)
			} else {
				c.logger.Error("failure reading front-end input", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}
		c.logger.Debug("received from front-end", map[string]any{"raw": string(raw)})
		c.handler(raw)
	}
}

// CloseSend enqueues the close sentinel on the send path; messages
// already queued still drain.
func (c *Channel) CloseSend() {
	c.out.Close()
}

// Drained reports whether the outbound queue is empty.
func (c *Channel) Drained() bool {
	return c.out.Len() == 0
}

// Close tears the channel down: the pending read is unblocked and the
// receiving goroutine terminates. Idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.out.Close()
		if c.closer != nil {
			iox.DiscardClose(c.closer)
		}
	})
}

// Done is closed when the receive loop has terminated.
func (c *Channel) Done() <-chan struct{} {
	return c.recvDone
}

// SendDone is closed when the send loop has terminated.
func (c *Channel) SendDone() <-chan struct{} {
	return c.sendDone
}
