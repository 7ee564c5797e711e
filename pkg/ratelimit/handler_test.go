package ratelimit_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/fourtheye/imgserve/pkg/clock"
	"github.com/fourtheye/imgserve/pkg/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

// TestHandler tests the Handler type.
func TestHandler(t *testing.T) {
	t.Run("1/second", func(t *testing.T) {
		clk := clock.NewMock(time.Unix(1700000000, 0))

		// A single request per second for every client.
		handler := ratelimit.New(rate.Every(time.Second), 1, okHandler)
		handler.Clock = clk

		if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		rec := serve(handler, "192.0.2.1:1235")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status code %d, got %d", http.StatusTooManyRequests, rec.Code)
		}

		if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "1" {
			t.Fatalf("expected Retry-After header to be %q, got %q", "1", retryAfter)
		}

		clk.Advance(time.Second)

		if rec := serve(handler, "192.0.2.1:1236"); rec.Code != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		if rec := serve(handler, "192.0.2.1:1237"); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status code %d, got %d", http.StatusTooManyRequests, rec.Code)
		}
	})

	t.Run("per client", func(t *testing.T) {
		clk := clock.NewMock(time.Unix(1700000000, 0))

		handler := ratelimit.New(rate.Every(time.Minute), 2, okHandler)
		handler.Clock = clk

		for i := 0; i < 2; i++ {
			if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected status code %d, got %d", i, http.StatusOK, rec.Code)
			}
		}

		if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status code %d, got %d", http.StatusTooManyRequests, rec.Code)
		}

		// Another client has its own bucket.
		if rec := serve(handler, "192.0.2.2:1234"); rec.Code != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("on limit", func(t *testing.T) {
		handler := ratelimit.New(rate.Every(time.Hour), 1, okHandler)
		handler.Clock = clock.NewMock(time.Unix(1700000000, 0))
		handler.OnLimit = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		serve(handler, "192.0.2.1:1234")

		if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status code %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})

	t.Run("x-ratelimit headers", func(t *testing.T) {
		handler := ratelimit.New(rate.Every(time.Second), 5, okHandler)
		handler.Clock = clock.NewMock(time.Unix(1700000000, 0))
		handler.SetXLimit = true

		rec := serve(handler, "192.0.2.1:1234")

		if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
			t.Fatalf("expected limit %q, got %q", "5", got)
		}

		if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
			t.Fatalf("expected remaining %q, got %q", "4", got)
		}

		if got := rec.Header().Get("X-RateLimit-Reset"); got != "1700000001" {
			t.Fatalf("expected reset %q, got %q", "1700000001", got)
		}
	})

	t.Run("no limit", func(t *testing.T) {
		// Create a new handler without a limit.
		handler := &ratelimit.Handler{Next: okHandler}

		for i := 0; i < 3; i++ {
			if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusOK {
				t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
			}
		}
	})

	t.Run("idle clients are dropped", func(t *testing.T) {
		clk := clock.NewMock(time.Unix(1700000000, 0))

		handler := ratelimit.New(rate.Every(time.Second), 1, okHandler)
		handler.Clock = clk
		handler.IdleTTL = time.Minute

		for i := 0; i < 10000; i++ {
			addr := fmt.Sprintf("10.%d.%d.%d:1234", i>>16&0xff, i>>8&0xff, i&0xff)
			if rec := serve(handler, addr); rec.Code != http.StatusOK {
				t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
			}
		}

		if got := handler.Clients(); got != 10000 {
			t.Fatalf("expected 10000 clients, got %d", got)
		}

		clk.Advance(24 * time.Hour)

		if rec := serve(handler, "192.0.2.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		if got := handler.Clients(); got != 1 {
			t.Fatalf("expected idle clients to be dropped, %d held", got)
		}
	})
}
