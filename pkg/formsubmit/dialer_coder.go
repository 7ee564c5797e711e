package formsubmit

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds the size of the response message. Responses carry
// a base64 encoded image, far above the 32KiB default of coder/websocket.
const DefaultReadLimit = 16 << 20

// CoderDialer dials with github.com/coder/websocket. It also builds for
// js/wasm, where it uses the browser's WebSocket.
type CoderDialer struct {
	// Header is sent with the opening handshake. Browsers ignore it.
	Header http.Header

	// ReadLimit overrides DefaultReadLimit.
	ReadLimit int64
}

// Dial implements Dialer.
func (d CoderDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, d.dialOptions())
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)

	return &coderConn{c: c}, nil
}

type coderConn struct {
	c *websocket.Conn
}

func (w *coderConn) WriteText(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageText, p)
}

func (w *coderConn) ReadText(ctx context.Context) ([]byte, error) {
	typ, p, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, ErrBinaryMessage
	}
	return p, nil
}

func (w *coderConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
