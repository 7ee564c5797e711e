package secureheaders

import "net/http"

// DefaultContentSecurityPolicy allows the page to load its own scripts and
// WebAssembly, show inline data: and https images, and open WebSocket
// connections.
const DefaultContentSecurityPolicy = "default-src 'self'; img-src 'self' data: https:; connect-src 'self' ws: wss:; script-src 'self' 'wasm-unsafe-eval'"

// Handler is a middleware that sets common security headers on responses.
type Handler struct {
	// ContentSecurityPolicy overrides DefaultContentSecurityPolicy.
	ContentSecurityPolicy string

	// StrictTransportSecurity sets the Strict-Transport-Security header.
	// Only enable it when the server is reached over TLS.
	StrictTransportSecurity bool

	// Next is the Next handler in the chain.
	Next http.Handler
}

// ServeHTTP implements http.Handler and sets the security headers.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Set the X-Content-Type-Options header to prevent MIME type sniffing.
	//
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-Content-Type-Options
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Set the X-Frame-Options header to prevent clickjacking.
	//
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/X-Frame-Options
	w.Header().Set("X-Frame-Options", "DENY")

	// Set the Referrer-Policy header to prevent leaking the origin of cross-origin requests.
	//
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Referrer-Policy
	w.Header().Set("Referrer-Policy", "same-origin")

	// Set Strict-Transport-Security header to prevent downgrade attacks.
	//
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Strict-Transport-Security
	if h.StrictTransportSecurity {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Set the Content-Security-Policy header to prevent XSS attacks.
	//
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Content-Security-Policy
	csp := h.ContentSecurityPolicy
	if csp == "" {
		csp = DefaultContentSecurityPolicy
	}
	w.Header().Set("Content-Security-Policy", csp)

	// NOTE: we don't set the X-XSS-Protection header because it
	//       is deprecated. At best, it has no effect in modern browsers.
	//
	//       At worst, it can cause XSS vulnerabilities when set.
	//
	//	     https://www.owasp.org/index.php/List_of_useful_HTTP_headers

	// Check if the Next handler is set.
	if h.Next != nil {
		// Call the next handler.
		h.Next.ServeHTTP(w, r)
		return
	}
}
