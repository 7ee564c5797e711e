package basicauth_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/basicauth"
)

func TestHandler(t *testing.T) {
	var user string

	handler := &basicauth.Handler{
		Users: map[string]string{
			"compsyn": "hunter2",
			"admin":   "",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ = basicauth.User(r)
			w.WriteHeader(http.StatusNoContent)
		}),
	}

	tests := []struct {
		name   string
		auth   func(r *http.Request)
		status int
	}{
		{
			name:   "valid",
			auth:   func(r *http.Request) { r.SetBasicAuth("compsyn", "hunter2") },
			status: http.StatusNoContent,
		},
		{
			name:   "no credentials",
			auth:   func(r *http.Request) {},
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong password",
			auth:   func(r *http.Request) { r.SetBasicAuth("compsyn", "hunter3") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "unknown user",
			auth:   func(r *http.Request) { r.SetBasicAuth("mallory", "hunter2") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "user without password",
			auth:   func(r *http.Request) { r.SetBasicAuth("admin", "") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "not basic",
			auth:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			status: http.StatusUnauthorized,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			user = ""

			req := httptest.NewRequest(http.MethodGet, "/experiments/concreteness", nil)
			test.auth(req)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != test.status {
				t.Fatalf("expected status code %d, got %d", test.status, rec.Code)
			}

			if test.status != http.StatusUnauthorized {
				if user != "compsyn" {
					t.Fatalf("expected authenticated user %q, got %q", "compsyn", user)
				}
				return
			}

			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected a WWW-Authenticate challenge")
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}

			if body["error"] == "" {
				t.Fatalf("expected an error message, got %v", body)
			}
		})
	}
}
