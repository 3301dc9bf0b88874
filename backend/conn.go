// Package backend owns the socket to the debug endpoint bootstrapped
// inside the target process.
//
// The outbound queue accepts messages before the socket exists; the
// send loop only starts once Connect succeeds, so everything queued
// during the attach sequence drains in order afterwards.
package backend

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/maxdap-io/maxdap/iox"
	"github.com/maxdap-io/maxdap/log"
	"github.com/maxdap-io/maxdap/queue"
	"github.com/maxdap-io/maxdap/wire"
)

// Handler receives one decoded message, raw. Called synchronously from
// the receiving goroutine, in arrival order.
type Handler func(raw []byte)

// ConnectError indicates the backend socket could not be opened.
// Single attempt, no retry; fatal to the session.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to debug endpoint at %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectError reports whether err is a ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// Conn is the connection to the backend debug endpoint.
type Conn struct {
	logger  *log.Logger
	out     *queue.Queue
	handler Handler

	mu   sync.Mutex
	sock net.Conn

	closeOnce sync.Once
	sendDone  chan struct{}
	recvDone  chan struct{}
}

// New creates an unconnected Conn. Send may be called immediately;
// queued messages are held until Connect succeeds.
func New(logger *log.Logger) *Conn {
	return &Conn{
		logger:   logger,
		out:      queue.New(),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// OnReceive registers the inbound-message callback. Must be called
// before Connect.
func (c *Conn) OnReceive(h Handler) {
	c.handler = h
}

// Send enqueues one raw message for ordered, exactly-once delivery.
// Safe to call before Connect.
func (c *Conn) Send(raw []byte) {
	if !c.out.Put(raw) {
		c.logger.Debug("dropped message enqueued after close", nil)
	}
}

// Connect dials the backend endpoint and starts the send and receive
// loops. A dial failure propagates synchronously and is not retried.
func (c *Conn) Connect(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	sock, err := net.Dial("tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	c.logger.Info("connected to debug endpoint", map[string]any{"addr": addr})

	go c.sendLoop(sock)
	go c.recvLoop(sock)
	return nil
}

// sendLoop drains the outbound queue in FIFO order, framing each
// message onto the socket. The close sentinel is the only way to stop
// it.
func (c *Conn) sendLoop(sock net.Conn) {
	defer close(c.sendDone)
	for {
		raw, ok := c.out.Get()
		if !ok {
			return
		}
		if _, err := sock.Write(wire.Encode(raw)); err != nil {
			c.logger.Debug("debug socket closed", map[string]any{"error": err.Error()})
			return
		}
		c.logger.Debug("sent to backend", map[string]any{"raw": string(raw)})
	}
}

// recvLoop decodes framed messages and invokes the callback in arrival
// order. Any decode failure or connection reset closes the socket and
// terminates the loop; this is the sole backend-side teardown trigger.
func (c *Conn) recvLoop(sock net.Conn) {
	defer close(c.recvDone)
	dec := wire.NewDecoder(sock)
	for {
		raw, err := dec.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.logger.Debug("backend connection closed", nil)
			} else {
				c.logger.Error("failure reading backend output", map[string]any{
					"error": err.Error(),
				})
			}
			c.Close()
			return
		}
		c.logger.Debug("received from backend", map[string]any{"raw": string(raw)})
		c.handler(raw)
	}
}

// CloseSend enqueues the close sentinel on the send path; messages
// already queued still drain.
func (c *Conn) CloseSend() {
	c.out.Close()
}

// Drained reports whether the outbound queue is empty.
func (c *Conn) Drained() bool {
	return c.out.Len() == 0
}

// Close closes the socket, unblocking the receive loop. Idempotent and
// safe before Connect.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.out.Close()
		c.mu.Lock()
		sock := c.sock
		c.mu.Unlock()
		if sock != nil {
			iox.DiscardClose(sock)
		}
	})
}

// Done is closed when the receive loop has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.recvDone
}
