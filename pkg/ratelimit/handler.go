package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fourtheye/imgserve/pkg/clock"
	"github.com/fourtheye/imgserve/pkg/store"
)

// DefaultIdleTTL is how long the limiter of a client that stopped sending
// requests is kept.
const DefaultIdleTTL = 10 * time.Minute

// Handler is a net/http middleware that rate limits requests per client,
// each client getting its own token bucket.
type Handler struct {
	// Limit is the sustained request rate of a single client.
	// A zero limit disables rate limiting.
	Limit rate.Limit

	// Burst is the number of requests a client may send at once.
	Burst int

	// Key returns the client key of a request. If nil, the remote host is
	// used.
	Key func(r *http.Request) string

	// SetRetryAfter sets the Retry-After header on rate limited
	// responses. If false, the header is not set.
	SetRetryAfter bool

	// SetXLimit sets the X-RateLimit-* headers on allowed responses.
	SetXLimit bool

	// OnLimit is called when a request is rate limited.
	// If nil, http.StatusTooManyRequests (429) is returned.
	OnLimit func(w http.ResponseWriter, r *http.Request)

	// Clock is the clock used to refill buckets. If nil, the system clock
	// is used.
	Clock clock.Face

	// IdleTTL overrides DefaultIdleTTL.
	IdleTTL time.Duration

	// Next is the Next handler in the chain.
	Next http.Handler

	// contains filtered or unexported fields
	once     sync.Once
	mu       sync.Mutex
	limiters *store.Memory[*rate.Limiter]
}

// New returns a handler allowing each client limit requests per second
// with the given burst.
func New(limit rate.Limit, burst int, next http.Handler) *Handler {
	return &Handler{
		Limit:         limit,
		Burst:         burst,
		SetRetryAfter: true,
		Next:          next,
	}
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

// RemoteHost returns the host part of the request's remote address.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) init() {
	h.once.Do(func() {
		ttl := h.IdleTTL
		if ttl == 0 {
			ttl = DefaultIdleTTL
		}
		h.limiters = store.NewMemory[*rate.Limiter](ttl)
		if h.Clock != nil {
			h.limiters.Clock = h.Clock
		}
	})
}

// Clients returns the number of client limiters currently held. Limiters
// idle for longer than IdleTTL are dropped as new clients arrive.
func (h *Handler) Clients() int {
	h.init()
	return h.limiters.Len()
}

// limiter returns the limiter of the given client, creating it on first use.
// Every use refreshes its idle expiry.
func (h *Handler) limiter(key string) *rate.Limiter {
	h.init()

	h.mu.Lock()
	defer h.mu.Unlock()

	var l *rate.Limiter
	if cur, err := h.limiters.Get(key); err == nil {
		l = *cur
	} else {
		l = rate.NewLimiter(h.Limit, h.Burst)
	}
	h.limiters.Set(key, l)

	return l
}

// ServeHTTP implements http.Handler and rate limits requests based
// on the client's limiter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Limit == 0 {
		if h.Next != nil {
			h.Next.ServeHTTP(w, r)
		}
		return
	}

	key := RemoteHost(r)
	if h.Key != nil {
		key = h.Key(r)
	}

	limiter := h.limiter(key)
	now := h.now()

	// Check if the request is rate limited.
	if !limiter.AllowN(now, 1) {
		if h.SetRetryAfter {
			// Retry-After is given in whole seconds, rounded up. The
			// reservation only measures the delay and is given back.
			//
			// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Retry-After
			res := limiter.ReserveN(now, 1)
			delay := res.DelayFrom(now)
			res.CancelAt(now)

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		}

		if h.OnLimit != nil {
			h.OnLimit(w, r)
			return
		}

		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	// Optional common rate limit headers.
	//
	// https://developer.okta.com/docs/reference/rl-best-practices/#check-your-rate-limits-with-okta-s-rate-limit-headers
	if h.SetXLimit {
		// The rate limit ceiling that is applicable for the current request.
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", h.Burst))
		// The number of requests left for the current rate-limit window.
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.TokensAt(now))))
		// The time at which the bucket is full again, in UTC epoch seconds.
		missing := float64(h.Burst) - limiter.TokensAt(now)
		reset := now.Add(time.Duration(missing / float64(h.Limit) * float64(time.Second)))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
	}

	if h.Next != nil {
		h.Next.ServeHTTP(w, r)
	}
}
