// Package wire implements the Content-Length framed transport shared by
// the front-end channel and the backend socket.
//
// A frame is an ASCII header block terminated by a blank line, followed
// by exactly the declared number of payload bytes:
//
//	Content-Length: <N>\r\n
//	\r\n
//	<N bytes of UTF-8 JSON>
//
// Framing errors are fatal to the connection that owns the stream; there
// is no resynchronization once a length cannot be satisfied.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// headerPrefix is matched case-sensitively, as both wire dialects emit
// the canonical form.
const headerPrefix = "Content-Length: "

// FramingErrorKind classifies framing errors.
type FramingErrorKind int

const (
	// FramingErrorHeader indicates a truncated or unterminated header block.
	FramingErrorHeader FramingErrorKind = iota
	// FramingErrorLength indicates an unparseable Content-Length value.
	FramingErrorLength
	// FramingErrorTruncated indicates the stream closed before the
	// declared payload length was satisfied.
	FramingErrorTruncated
)

// FramingError represents a framed-stream decoding error. All framing
// errors are fatal to the owning connection.
type FramingError struct {
	Kind FramingErrorKind
	Msg  string
	Err  error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is (or wraps) a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// Encode frames a payload for the wire. The declared length is the exact
// byte length of the payload, which the caller must already have
// serialized to UTF-8 JSON.
func Encode(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return buf
}

// Decoder reads framed messages from a byte stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Read blocks until a complete frame is available and returns the raw
// payload bytes, unparsed, so callers can forward them without
// re-serialization artifacts.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FramingError: malformed or truncated frame (fatal)
//
// Header blocks that declare no positive length are skipped, matching
// the lenient reader on the backend side.
func (d *Decoder) Read() ([]byte, error) {
	for {
		contentLength, err := d.readHeaders()
		if err != nil {
			return nil, err
		}
		if contentLength <= 0 {
			continue
		}

		payload := make([]byte, contentLength)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return nil, &FramingError{
				Kind: FramingErrorTruncated,
				Msg:  fmt.Sprintf("stream closed with %d of %d payload bytes pending", len(payload), contentLength),
				Err:  err,
			}
		}
		return payload, nil
	}
}

// readHeaders consumes header lines up to and including the blank
// separator line and returns the declared content length, or 0 when no
// Content-Length header was present.
func (d *Decoder) readHeaders() (int, error) {
	contentLength := 0
	sawHeader := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeader && line == "" {
				// Clean end of stream between frames.
				return 0, io.EOF
			}
			return 0, &FramingError{
				Kind: FramingErrorHeader,
				Msg:  "stream closed mid-header",
				Err:  err,
			}
		}
		sawHeader = true

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return contentLength, nil
		}
		if strings.HasPrefix(line, headerPrefix) {
			n, err := strconv.Atoi(strings.TrimSpace(line[len(headerPrefix):]))
			if err != nil {
				return 0, &FramingError{
					Kind: FramingErrorLength,
					Msg:  fmt.Sprintf("invalid content length %q", line[len(headerPrefix):]),
					Err:  err,
				}
			}
			contentLength = n
		}
		// Unrecognized header lines are ignored.
	}
}
