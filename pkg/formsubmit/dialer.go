package formsubmit

import (
	"context"
	"errors"
	"time"

	"github.com/fourtheye/imgserve/pkg/websocket"
)

// Dialer opens the connection for one exchange.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is the message level view of a WebSocket connection the submitter
// needs: one text message out, one text message in.
type Conn interface {
	// WriteText sends a single text message.
	WriteText(ctx context.Context, p []byte) error
	// ReadText returns the next message, or ErrBinaryMessage if it is not text.
	ReadText(ctx context.Context) ([]byte, error)
	// Close closes the connection with a normal closure.
	Close() error
}

// WebsocketDialer dials with the native websocket package.
type WebsocketDialer struct {
	// Options are passed to websocket.Dial.
	Options []websocket.DialOption
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, d.Options...)
	if err != nil {
		return nil, err
	}
	return &websocketConn{c: c}, nil
}

type websocketConn struct {
	c *websocket.Conn
}

// aLongTimeAgo is used as a deadline to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// withContext runs fn with the connection deadline bound to ctx.
func withContext(ctx context.Context, setDeadline func(time.Time) error, fn func() error) error {
	if deadline, ok := ctx.Deadline(); ok {
		setDeadline(deadline)
		defer setDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		setDeadline(aLongTimeAgo)
	})

	err := fn()

	if !stop() && err != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (w *websocketConn) WriteText(ctx context.Context, p []byte) error {
	return withContext(ctx, w.c.SetWriteDeadline, func() error {
		return w.c.WriteMessage(websocket.TextFrame, p)
	})
}

func (w *websocketConn) ReadText(ctx context.Context) ([]byte, error) {
	var (
		opcode websocket.Opcode
		msg    []byte
	)

	err := withContext(ctx, w.c.SetReadDeadline, func() error {
		var err error
		opcode, msg, err = w.c.ReadMessage()
		return err
	})
	if err != nil {
		return nil, err
	}

	if opcode != websocket.TextFrame {
		return nil, ErrBinaryMessage
	}
	return msg, nil
}

func (w *websocketConn) Close() error {
	return w.c.Close()
}
