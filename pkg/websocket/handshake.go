package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// magicGUID is appended to the client key to compute the accept key.
//
// https://tools.ietf.org/html/rfc6455#section-1.3
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// aLongTimeAgo is used as a deadline to abort blocked I/O on cancellation.
var aLongTimeAgo = time.Unix(1, 0)

// Upgrader upgrades HTTP requests to WebSocket connections.
type Upgrader struct {
	// Header is copied into the handshake response.
	Header http.Header

	// CheckOrigin returns true if the request's Origin is acceptable.
	// If nil, every origin is accepted.
	CheckOrigin func(r *http.Request) bool

	// MaxPayloadSize overrides DefaultMaxPayloadSize for the connection.
	MaxPayloadSize int
}

// Upgrade upgrades the HTTP connection to a WebSocket connection.
//
// On failure an HTTP error response has already been written.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil, fmt.Errorf("websocket: method is not GET: %s", r.Method)
	}

	if !headerHasToken(r.Header, "Upgrade", "websocket") {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, fmt.Errorf("websocket: upgrade header is not websocket: %q", r.Header.Get("Upgrade"))
	}

	if !headerHasToken(r.Header, "Connection", "upgrade") {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, fmt.Errorf("websocket: connection header is not upgrade: %q", r.Header.Get("Connection"))
	}

	// Validate the WebSocket version.
	if version := r.Header.Get("Sec-WebSocket-Version"); version != "13" {
		w.Header().Set("Sec-WebSocket-Version", "13")
		http.Error(w, http.StatusText(http.StatusUpgradeRequired), http.StatusUpgradeRequired)
		return nil, fmt.Errorf("websocket: unsupported version for upgrade request %q", version)
	}

	// Validate the WebSocket key.
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, fmt.Errorf("websocket: key is empty")
	}

	if u.CheckOrigin != nil && !u.CheckOrigin(r) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, fmt.Errorf("websocket: origin not allowed: %q", r.Header.Get("Origin"))
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, fmt.Errorf("websocket: response does not implement http.Hijacker")
	}

	conn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, fmt.Errorf("websocket: hijack failed: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n")

	// Only the first offered subprotocol is echoed back.
	if protocols := headerTokens(r.Header, "Sec-WebSocket-Protocol"); len(protocols) > 0 {
		buf.WriteString("Sec-WebSocket-Protocol: " + protocols[0] + "\r\n")
	}

	if err := u.Header.Write(&buf); err != nil {
		conn.Close()
		return nil, err
	}
	buf.WriteString("\r\n")

	if _, err := conn.Write(buf.Bytes()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket: failed to write handshake response: %w", err)
	}

	c := newConn(conn, brw.Reader, false)
	if u.MaxPayloadSize > 0 {
		c.MaxPayloadSize = u.MaxPayloadSize
	}
	return c, nil
}

// Upgrade upgrades the HTTP connection to a WebSocket connection, adding
// additionalHeaders to the handshake response.
func Upgrade(w http.ResponseWriter, r *http.Request, additionalHeaders http.Header) (*Conn, error) {
	return (&Upgrader{Header: additionalHeaders}).Upgrade(w, r)
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	netDialer *net.Dialer
	tlsConfig *tls.Config
	header    http.Header
}

// WithHeader adds headers to the opening handshake request.
func WithHeader(header http.Header) DialOption {
	return func(c *dialConfig) {
		for k, v := range header {
			c.header[k] = append(c.header[k], v...)
		}
	}
}

// WithOrigin sets the Origin header of the opening handshake request.
func WithOrigin(origin string) DialOption {
	return func(c *dialConfig) {
		c.header.Set("Origin", origin)
	}
}

// WithTLSConfig sets the TLS configuration used for wss:// URLs.
func WithTLSConfig(config *tls.Config) DialOption {
	return func(c *dialConfig) {
		c.tlsConfig = config
	}
}

// WithNetDialer sets the dialer used for the TCP connection.
func WithNetDialer(d *net.Dialer) DialOption {
	return func(c *dialConfig) {
		c.netDialer = d
	}
}

// Dial dials a WebSocket connection to the given ws:// or wss:// URL and
// returns the connection and the related HTTP response.
//
// The context bounds the TCP dial and the opening handshake.
func Dial(ctx context.Context, rawURL string, opts ...DialOption) (*Conn, *http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: invalid url %q: %w", rawURL, err)
	}

	var secure bool
	switch u.Scheme {
	case "ws", "http":
	case "wss", "https":
		secure = true
	default:
		return nil, nil, fmt.Errorf("websocket: unsupported url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, nil, fmt.Errorf("websocket: url %q has no host", rawURL)
	}

	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if secure {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	cfg := &dialConfig{
		netDialer: &net.Dialer{},
		header:    make(http.Header),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Dial the connection.
	var conn net.Conn
	if secure {
		tlsConfig := cfg.tlsConfig.Clone()
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = u.Hostname()
		}
		conn, err = (&tls.Dialer{NetDialer: cfg.netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = cfg.netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}

	// Abort the handshake if the context ends while it is in flight.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(aLongTimeAgo)
	})

	c, resp, err := handshake(conn, u, cfg.header)

	if !stop() {
		// The context ended; the deadline may have interrupted the handshake.
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		conn.Close()
		return nil, resp, err
	}

	conn.SetDeadline(time.Time{})

	return c, resp, nil
}

func handshake(conn net.Conn, u *url.URL, header http.Header) (*Conn, *http.Response, error) {
	// generate challenge key
	key, err := generateKey()
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	lines := []string{
		"GET " + u.RequestURI() + " HTTP/1.1",
		"Host: " + u.Host,
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Version: 13",
		"Sec-WebSocket-Key: " + key,
		"",
	}
	buf.WriteString(strings.Join(lines, "\r\n"))
	if err := header.Write(&buf); err != nil {
		return nil, nil, err
	}
	buf.WriteString("\r\n")

	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, nil, err
	}

	// Decode the response. The reader is kept for the connection, since
	// the server may send frames right behind the handshake.
	br := bufio.NewReader(conn)

	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		return nil, nil, err
	}

	// Validate the response.
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, resp, fmt.Errorf("websocket: unexpected status code: %d", resp.StatusCode)
	}

	if !headerHasToken(resp.Header, "Upgrade", "websocket") {
		return nil, resp, fmt.Errorf("websocket: upgrade header is not websocket: %q", resp.Header.Get("Upgrade"))
	}

	if !headerHasToken(resp.Header, "Connection", "upgrade") {
		return nil, resp, fmt.Errorf("websocket: connection header is not upgrade: %q", resp.Header.Get("Connection"))
	}

	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept == "" {
		return nil, resp, fmt.Errorf("websocket: accept is empty")
	}

	if accept != acceptKey(key) {
		return nil, resp, fmt.Errorf("websocket: accept is invalid")
	}

	return newConn(conn, br, true), resp, nil
}

// generateKey generates a random key used for the WebSocket handshake.
func generateKey() (string, error) {
	key := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// acceptKey generates the accept key used for the WebSocket handshake.
func acceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, magicGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerTokens returns the comma separated tokens of every value of the
// named header.
func headerTokens(h http.Header, name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

// headerHasToken reports whether the named header contains token,
// compared case-insensitively.
func headerHasToken(h http.Header, name, token string) bool {
	for _, t := range headerTokens(h, name) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
