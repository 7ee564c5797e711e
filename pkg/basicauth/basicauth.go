// Package basicauth provides a net/http middleware that authenticates
// requests with HTTP basic authentication against a fixed set of users.
package basicauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/exp/slog"
)

// Handler authenticates requests before passing them to Next. Failures are
// answered with 401 and a JSON body {"error": "..."}.
type Handler struct {
	// Users maps user names to passwords. A user with an empty password
	// can never authenticate.
	Users map[string]string

	// Realm is sent in the WWW-Authenticate challenge.
	Realm string

	// Logger is the logger used to log messages.
	Logger *slog.Logger

	// Next is the Next handler in the chain.
	Next http.Handler
}

type userKey struct{}

// User returns the authenticated user name of a request that passed a
// Handler.
func User(r *http.Request) (string, bool) {
	name, ok := r.Context().Value(userKey{}).(string)
	return name, ok
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().WithGroup("basicauth")
	}
	return h.Logger
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		h.unauthorized(w, "authentication required")
		return
	}

	name, password, ok := r.BasicAuth()
	if !ok {
		h.unauthorized(w, "invalid basic auth credentials")
		return
	}

	if !h.valid(name, password) {
		h.logger().Warn("authentication failed", slog.String("user", name), slog.String("remote", r.RemoteAddr))
		h.unauthorized(w, fmt.Sprintf("username or password incorrect for %s", name))
		return
	}

	h.logger().Info("authenticated", slog.String("user", name))

	if h.Next != nil {
		h.Next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, name)))
	}
}

// valid compares in constant time over fixed size digests, so neither the
// password nor its length leaks through timing.
func (h *Handler) valid(name, password string) bool {
	want, ok := h.Users[name]
	if !ok || want == "" {
		// Compare anyway to keep the timing of unknown users the same.
		want = "\x00"
		ok = false
	}

	got := sha256.Sum256([]byte(password))
	exp := sha256.Sum256([]byte(want))

	return subtle.ConstantTimeCompare(got[:], exp[:]) == 1 && ok
}

func (h *Handler) unauthorized(w http.ResponseWriter, message string) {
	realm := h.Realm
	if realm == "" {
		realm = "imgserve"
	}

	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
