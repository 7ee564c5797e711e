package secureheaders_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fourtheye/imgserve/pkg/secureheaders"
)

func TestHandler(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var called bool

		handler := secureheaders.Handler{
			Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}),
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if !called {
			t.Fatal("expected next handler to be called")
		}

		headers := map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Referrer-Policy":        "same-origin",
		}
		for name, want := range headers {
			if got := rec.Header().Get(name); got != want {
				t.Fatalf("expected %s to be %q, got %q", name, want, got)
			}
		}

		csp := rec.Header().Get("Content-Security-Policy")
		for _, directive := range []string{"img-src 'self' data:", "connect-src 'self' ws: wss:"} {
			if !strings.Contains(csp, directive) {
				t.Fatalf("expected CSP %q to contain %q", csp, directive)
			}
		}

		if hsts := rec.Header().Get("Strict-Transport-Security"); hsts != "" {
			t.Fatalf("expected no HSTS header, got %q", hsts)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		handler := secureheaders.Handler{
			ContentSecurityPolicy:   "default-src 'none'",
			StrictTransportSecurity: true,
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'" {
			t.Fatalf("unexpected CSP %q", got)
		}

		if hsts := rec.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(hsts, "max-age=") {
			t.Fatalf("expected HSTS header, got %q", hsts)
		}
	})
}
