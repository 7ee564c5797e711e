package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ErrUnmaskedFrame is returned by a FrameReader that requires masked frames
// (a server reading from a client) when an unmasked frame arrives.
//
// https://www.rfc-editor.org/rfc/rfc6455#section-5.1
var ErrUnmaskedFrame = errors.New("websocket: received unmasked frame from client")

// Frame is a single "WebSocket frame", a slice of bytes that contains
// a "header" and "payload".
//
// The header is at least two bytes long. The first byte contains the FIN
// flag and the opcode. The second byte contains the mask flag and the
// payload length, which may be extended by two or eight more bytes. A
// masked frame carries a four byte masking key between the header and
// the payload.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+ - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
//
// https://tools.ietf.org/html/rfc6455#section-5.2
type Frame []byte

// FrameMask is the mask key for a masked frame.
//
// https://tools.ietf.org/html/rfc6455#section-5.3
type FrameMask [4]byte

// NewFrame creates a new, final, unmasked frame with the given opcode and
// payload. The payload is copied.
func NewFrame(opcode Opcode, payload []byte) Frame {
	return buildFrame(opcode, true, payload, nil)
}

// NewCloseFrame returns a new close frame.
//
// A close frame is a control frame with a payload consisting of a 2-byte
// unsigned integer (in network byte order) followed by a UTF-8-encoded
// "reason".
//
// https://www.rfc-editor.org/rfc/rfc6455#section-5.5.1
func NewCloseFrame(code StatusCode, reason string) Frame {
	payload := make([]byte, 2+len(reason))

	binary.BigEndian.PutUint16(payload, uint16(code))

	copy(payload[2:], reason)

	return NewFrame(CloseFrame, payload)
}

// buildFrame encodes a frame. When mask is not nil the payload is masked
// with it and the key is written into the header.
func buildFrame(opcode Opcode, fin bool, payload []byte, mask *FrameMask) Frame {
	size := 2
	switch {
	case len(payload) >= 65536:
		size += 8
	case len(payload) >= 126:
		size += 2
	}
	if mask != nil {
		size += 4
	}

	frame := make(Frame, size+len(payload))

	frame[0] = byte(opcode) & 0x0f
	if fin {
		frame[0] |= 0x80
	}

	switch {
	case len(payload) < 126:
		frame[1] = byte(len(payload))
	case len(payload) < 65536:
		frame[1] = 126
		binary.BigEndian.PutUint16(frame[2:], uint16(len(payload)))
	default:
		frame[1] = 127
		binary.BigEndian.PutUint64(frame[2:], uint64(len(payload)))
	}

	copy(frame[size:], payload)

	if mask != nil {
		frame[1] |= 0x80
		copy(frame[size-4:size], mask[:])
		maskBytes(*mask, frame[size:])
	}

	return frame
}

// maskBytes XORs b in place with the repeating mask key. Masking and
// unmasking are the same operation.
func maskBytes(key FrameMask, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// newMask returns a random mask key.
func newMask() (FrameMask, error) {
	var key FrameMask
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("websocket: failed to generate mask key: %w", err)
	}
	return key, nil
}

// Bytes returns the encoded frame.
func (f Frame) Bytes() []byte {
	return f
}

func (f Frame) String() string {
	return fmt.Sprintf(
		"websocket.Frame{Type: %v, Fin: %t, Size: %d, Mask: %s, Payload: %s}",
		f.Opcode(),
		f.Fin(),
		f.PayloadSize(),
		hex.EncodeToString(f.MaskKey()),
		hex.EncodeToString(f.Payload()),
	)
}

// Fin reports whether this is the final fragment of a message.
func (f Frame) Fin() bool {
	if len(f) == 0 {
		return false
	}
	return f[0]&0x80 != 0
}

// Opcode returns the opcode of the frame, the 4 least significant bits of
// the first byte.
func (f Frame) Opcode() Opcode {
	if len(f) == 0 {
		return -1
	}
	return Opcode(f[0] & 0x0f)
}

// Masked returns true if the frame is masked.
func (f Frame) Masked() bool {
	if len(f) < 2 {
		return false
	}
	// The mask bit is the 8th bit of the second byte.
	return f[1]&0x80 != 0
}

// headerSize returns the number of bytes before the payload, including the
// extended length and the mask key, or -1 if the frame is truncated.
func (f Frame) headerSize() int {
	if len(f) < 2 {
		return -1
	}

	size := 2
	switch f[1] & 0x7f {
	case 126:
		size += 2
	case 127:
		size += 8
	}
	if f.Masked() {
		size += 4
	}

	if len(f) < size {
		return -1
	}
	return size
}

// PayloadSize returns the payload length encoded in the header.
func (f Frame) PayloadSize() int {
	if f.headerSize() < 0 {
		return 0
	}

	payloadLength := int(f[1] & 0x7f)

	switch payloadLength {
	case 126:
		payloadLength = int(binary.BigEndian.Uint16(f[2:4]))
	case 127:
		payloadLength = int(binary.BigEndian.Uint64(f[2:10]))
	}

	return payloadLength
}

// MaskKey returns the mask key for the frame. The mask key is only present
// if the frame is masked.
func (f Frame) MaskKey() []byte {
	size := f.headerSize()
	if !f.Masked() || size < 0 {
		return nil
	}
	return f[size-4 : size]
}

// Payload returns the payload bytes as stored in the frame. For a masked
// frame these are the masked bytes; use Unmask first to read them.
func (f Frame) Payload() []byte {
	size := f.headerSize()
	if size < 0 {
		return nil
	}

	end := size + f.PayloadSize()
	if end > len(f) || end < size {
		return nil
	}
	return f[size:end]
}

// Mask returns a copy of the frame masked with the given key. An already
// masked frame is returned as is.
func (f Frame) Mask(key FrameMask) Frame {
	if f.Masked() {
		return f
	}
	return buildFrame(f.Opcode(), f.Fin(), f.Payload(), &key)
}

// Unmask returns a copy of the frame with the payload unmasked and the mask
// key removed. An unmasked frame is returned as is.
func (f Frame) Unmask() Frame {
	if !f.Masked() {
		return f
	}

	payload := make([]byte, len(f.Payload()))
	copy(payload, f.Payload())

	var key FrameMask
	copy(key[:], f.MaskKey())
	maskBytes(key, payload)

	return buildFrame(f.Opcode(), f.Fin(), payload, nil)
}

// FrameReader reads frames from a reader.
type FrameReader struct {
	// Reader is the reader to read frames from.
	Reader io.Reader

	// MaxPayloadSize is the maximum payload size allowed.
	// If the payload size is greater than MaxPayloadSize, then the frame
	// is discarded and an error is returned.
	MaxPayloadSize int

	// RequireMasked rejects unmasked frames with ErrUnmaskedFrame.
	RequireMasked bool

	// ReadTimeout is applied as a read deadline before each frame when
	// Reader supports SetReadDeadline.
	ReadTimeout time.Duration
}

// ReadFrame reads a frame from the reader. The returned frame is always
// unmasked.
func (r *FrameReader) ReadFrame() (Frame, error) {
	if r.ReadTimeout > 0 {
		if d, ok := r.Reader.(interface {
			SetReadDeadline(time.Time) error
		}); ok {
			if err := d.SetReadDeadline(time.Now().Add(r.ReadTimeout)); err != nil {
				return nil, err
			}
		}
	}

	// Read the first two bytes of the frame.
	header := make([]byte, 2)
	if _, err := io.ReadFull(r.Reader, header); err != nil {
		return nil, err
	}

	if header[0]&0x70 != 0 {
		return nil, fmt.Errorf("websocket: reserved bits set in frame header: %#x", header[0])
	}

	opcode := Opcode(header[0] & 0x0f)
	fin := header[0]&0x80 != 0

	// The payload length is the 7 least significant bits of the second byte.
	payloadLength := uint64(header[1] & 0x7f)

	switch payloadLength {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r.Reader, ext); err != nil {
			return nil, err
		}
		payloadLength = uint64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r.Reader, ext); err != nil {
			return nil, err
		}
		payloadLength = binary.BigEndian.Uint64(ext)
	}

	if opcode.IsControl() && (payloadLength > 125 || !fin) {
		return nil, fmt.Errorf("websocket: invalid control frame %v (fin=%t, size=%d)", opcode, fin, payloadLength)
	}

	if r.MaxPayloadSize > 0 && payloadLength > uint64(r.MaxPayloadSize) {
		return nil, fmt.Errorf("websocket: payload size %d is greater than maximum payload size %d", payloadLength, r.MaxPayloadSize)
	}

	masked := header[1]&0x80 != 0
	if r.RequireMasked && !masked {
		return nil, ErrUnmaskedFrame
	}

	var key FrameMask
	if masked {
		if _, err := io.ReadFull(r.Reader, key[:]); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r.Reader, payload); err != nil {
		return nil, err
	}

	if masked {
		maskBytes(key, payload)
	}

	return buildFrame(opcode, fin, payload, nil), nil
}

// ReadFrame reads a single frame from r with a 1MiB payload limit.
func ReadFrame(r io.Reader) (Frame, error) {
	return (&FrameReader{
		Reader:         r,
		MaxPayloadSize: 1024 * 1024,
	}).ReadFrame()
}

// FrameWriter writes frames to a writer.
type FrameWriter struct {
	// Writer is the writer to write frames to.
	Writer io.Writer

	// Masked controls whether frames are masked. Clients must mask every
	// frame they send, servers must not.
	Masked bool
}

// WriteFrame writes a WebSocket frame to the underlying writer, masking or
// unmasking it as configured.
func (w *FrameWriter) WriteFrame(f Frame) error {
	if w.Masked && !f.Masked() {
		key, err := newMask()
		if err != nil {
			return err
		}
		f = f.Mask(key)
	}

	if !w.Masked && f.Masked() {
		f = f.Unmask()
	}

	n, err := w.Writer.Write(f)
	if err != nil {
		return err
	}
	if n != len(f) {
		return io.ErrShortWrite
	}
	return nil
}

// WriteFrame writes a frame to a writer.
func WriteFrame(w io.Writer, f Frame, masked bool) error {
	return (&FrameWriter{
		Writer: w,
		Masked: masked,
	}).WriteFrame(f)
}

// Opcode denotes the "message type" of a WebSocket frame.
//
// https://www.rfc-editor.org/rfc/rfc6455#section-11.8
type Opcode int

const (
	// ContinuationFrame is the opcode for a continuation frame.
	ContinuationFrame Opcode = 0x0

	// TextFrame is the opcode for a text frame.
	TextFrame Opcode = 0x1

	// BinaryFrame is the opcode for a binary frame.
	BinaryFrame Opcode = 0x2

	// CloseFrame is the opcode for a close frame.
	CloseFrame Opcode = 0x8

	// PingFrame is the opcode for a ping frame.
	PingFrame Opcode = 0x9

	// PongFrame is the opcode for a pong frame.
	PongFrame Opcode = 0xA
)

// IsControl reports whether the opcode denotes a control frame.
func (o Opcode) IsControl() bool {
	return o >= CloseFrame
}

// String returns the string representation of the opcode.
func (o Opcode) String() string {
	switch o {
	case ContinuationFrame:
		return "ContinuationMessage"
	case TextFrame:
		return "TextMessage"
	case BinaryFrame:
		return "BinaryMessage"
	case CloseFrame:
		return "CloseMessage"
	case PingFrame:
		return "PingMessage"
	case PongFrame:
		return "PongMessage"
	default:
		return "Unknown(0x" + strconv.FormatInt(int64(o), 16) + ")"
	}
}
