package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultMaxPayloadSize bounds a single frame read by a Conn. Responses carry
// base64 encoded images, so it is well above the 1MiB used by ReadFrame.
const DefaultMaxPayloadSize = 16 << 20

// CloseError is returned by ReadMessage when the peer sends a close frame.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: close %d", e.Code)
	}
	return fmt.Sprintf("websocket: close %d: %s", e.Code, e.Reason)
}

// IsCloseError reports whether err is a *CloseError with one of the given
// codes. With no codes any close error matches.
func IsCloseError(err error, codes ...StatusCode) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if ce.Code == code {
			return true
		}
	}
	return false
}

// Conn is a WebSocket connection.
//
// One goroutine may read while others write; writes are serialized.
type Conn struct {
	FrameReader
	FrameWriter

	// contains filtered or unexported fields
	raw       net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeSent bool
}

// NewConn returns a new WebSocket connection over raw, which must already
// have completed the opening handshake. Client connections mask the frames
// they write; server connections require masked frames from the peer.
func NewConn(raw net.Conn, client bool) *Conn {
	return newConn(raw, raw, client)
}

func newConn(raw net.Conn, r io.Reader, client bool) *Conn {
	return &Conn{
		raw: raw,
		FrameReader: FrameReader{
			Reader:         r,
			MaxPayloadSize: DefaultMaxPayloadSize,
			RequireMasked:  !client,
		},
		FrameWriter: FrameWriter{
			Writer: raw,
			Masked: client,
		},
	}
}

// WriteFrame writes a single frame, serialized with other writers.
func (c *Conn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closeSent {
		return net.ErrClosed
	}
	if f.Opcode() == CloseFrame {
		c.closeSent = true
	}
	return c.FrameWriter.WriteFrame(f)
}

// WriteMessage writes a message with the given opcode and payload using a
// single frame. The payload is not modified.
func (c *Conn) WriteMessage(opcode Opcode, data []byte) error {
	return c.WriteFrame(NewFrame(opcode, data))
}

// ReadMessage reads the next data message from the connection, joining
// fragments. Ping frames are answered with pongs and pong frames are
// skipped. A close frame is answered (once) and reported as a *CloseError.
func (c *Conn) ReadMessage() (Opcode, []byte, error) {
	var (
		opcode  Opcode
		message []byte
		started bool
	)

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return 0, nil, err
		}

		switch frame.Opcode() {
		case PingFrame:
			if err := c.WriteFrame(NewFrame(PongFrame, frame.Payload())); err != nil && !errors.Is(err, net.ErrClosed) {
				return 0, nil, err
			}
			continue
		case PongFrame:
			continue
		case CloseFrame:
			ce := parseClosePayload(frame.Payload())
			// Echo the status code back, unless a close frame already went out.
			// 1005 must never appear on the wire, so an empty close is echoed
			// as an empty close.
			reply := NewFrame(CloseFrame, nil)
			if ce.Code != StatusNoStatusRcvd {
				reply = NewCloseFrame(ce.Code, "")
			}
			_ = c.WriteFrame(reply)
			return 0, nil, ce
		case TextFrame, BinaryFrame:
			if started {
				return 0, nil, fmt.Errorf("websocket: new %v while a fragmented message is in progress", frame.Opcode())
			}
			opcode, started = frame.Opcode(), true
		case ContinuationFrame:
			if !started {
				return 0, nil, errors.New("websocket: continuation frame without a message in progress")
			}
		default:
			return 0, nil, fmt.Errorf("websocket: unknown opcode %v", frame.Opcode())
		}

		message = append(message, frame.Payload()...)

		if c.MaxPayloadSize > 0 && len(message) > c.MaxPayloadSize {
			return 0, nil, fmt.Errorf("websocket: message size %d is greater than maximum payload size %d", len(message), c.MaxPayloadSize)
		}

		if frame.Fin() {
			if opcode == TextFrame && !utf8.Valid(message) {
				return 0, nil, errors.New("websocket: text message is not valid UTF-8")
			}
			return opcode, message, nil
		}
	}
}

func parseClosePayload(payload []byte) *CloseError {
	if len(payload) < 2 {
		return &CloseError{Code: StatusNoStatusRcvd}
	}
	return &CloseError{
		Code:   StatusCode(binary.BigEndian.Uint16(payload)),
		Reason: string(payload[2:]),
	}
}

// Close sends a normal closure frame and closes the underlying connection.
func (c *Conn) Close() error {
	return c.CloseWithStatus(StatusNormalClosure, "")
}

// CloseWithStatus sends a close frame with the given code and reason, then
// closes the underlying connection. Only the first call has an effect.
func (c *Conn) CloseWithStatus(code StatusCode, reason string) error {
	var err error

	c.closeOnce.Do(func() {
		werr := c.WriteFrame(NewCloseFrame(code, reason))
		if errors.Is(werr, net.ErrClosed) {
			// The close frame was already sent in reply to the peer.
			werr = nil
		}

		cerr := c.raw.Close()

		err = errors.Join(werr, cerr)
	})

	return err
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// SetWriteDeadline sets the write deadline on the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.raw.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// SetDeadline sets the read and write deadlines on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}
