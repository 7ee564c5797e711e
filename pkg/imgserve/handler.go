package imgserve

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/websocket"
)

const (
	// DefaultReadTimeout bounds the wait for the single request message.
	DefaultReadTimeout = 30 * time.Second

	// MaxRequestSize bounds the request message.
	MaxRequestSize = 64 << 10

	// MaxImageURLs bounds the image URLs returned by list_image_urls.
	MaxImageURLs = 1000
)

// Handler serves the data endpoint: one JSON request and one JSON reply per
// WebSocket connection.
type Handler struct {
	// Catalog answers the lookups.
	Catalog Catalog

	// AllowedOrigins restricts the Origin of browser upgrades, see
	// OriginAllowed. Empty allows every origin.
	AllowedOrigins []string

	// ReadTimeout bounds the wait for the request. Zero means
	// DefaultReadTimeout.
	ReadTimeout time.Duration

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().WithGroup("imgserve")
	}
	return h.Logger
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger().With(slog.String("remote", r.RemoteAddr))

	upgrader := websocket.Upgrader{
		MaxPayloadSize: MaxRequestSize,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(h.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r)
	if err != nil {
		log.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	timeout := h.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	conn.SetReadDeadline(time.Now().Add(timeout))

	opcode, payload, err := conn.ReadMessage()
	if err != nil {
		log.Warn("reading request failed", slog.Any("error", err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	log.Info("processing websocket request")

	var reply map[string]any
	if opcode != websocket.TextFrame {
		reply = badRequest("malformed request")
	} else {
		reply = h.Respond(r.Context(), payload)
	}

	b, err := json.Marshal(reply)
	if err != nil {
		log.Error("encoding reply failed", slog.Any("error", err))
		conn.CloseWithStatus(websocket.StatusInternalServerErr, "")
		return
	}

	if err := conn.WriteMessage(websocket.TextFrame, b); err != nil {
		log.Warn("sending reply failed", slog.Any("error", err))
		return
	}

	log.Info("sent reply", slog.Any("status", reply["status"]))
}

type request map[string]json.RawMessage

// missing returns the keys absent from the request, in the given order.
func (req request) missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := req[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func badRequest(message string) map[string]any {
	return map[string]any{"status": http.StatusBadRequest, "message": message}
}

func missingKeys(missing []string) map[string]any {
	return map[string]any{"status": http.StatusBadRequest, "message": "missing required keys", "missing": missing}
}

func internalError() map[string]any {
	return map[string]any{"status": http.StatusInternalServerError, "message": "internal error"}
}

// Respond returns the reply to a single request payload.
func (h *Handler) Respond(ctx context.Context, payload []byte) map[string]any {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil || req == nil {
		return badRequest("malformed request")
	}

	if missing := req.missing("action"); len(missing) > 0 {
		return missingKeys(missing)
	}

	singleValue := true
	if raw, ok := req["single_value"]; ok {
		if err := json.Unmarshal(raw, &singleValue); err != nil {
			return badRequest("single_value must be a boolean")
		}
	}

	var action string
	if err := json.Unmarshal(req["action"], &action); err != nil {
		return map[string]any{"status": http.StatusNotFound, "message": fmt.Sprintf("no action found for %s", req["action"])}
	}

	switch action {
	case "get":
		return h.get(ctx, req, singleValue)
	case "list_experiments":
		return h.listExperiments(ctx)
	case "list_image_urls":
		return h.listImageURLs(ctx, req)
	default:
		return map[string]any{"status": http.StatusNotFound, "message": "no action found for " + action}
	}
}

type foundItem struct {
	Doc        map[string]any `json:"doc"`
	ImageBytes string         `json:"image_bytes"`
}

func (h *Handler) get(ctx context.Context, req request, singleValue bool) map[string]any {
	if missing := req.missing("experiment", "get"); len(missing) > 0 {
		return missingKeys(missing)
	}

	var query string
	if err := json.Unmarshal(req["get"], &query); err != nil {
		return badRequest("get must be a string")
	}

	// A null experiment searches every experiment.
	var experiment *string
	if err := json.Unmarshal(req["experiment"], &experiment); err != nil {
		return badRequest("experiment must be a string or null")
	}

	experiments := []string{}
	if experiment != nil {
		experiments = append(experiments, *experiment)
	} else {
		all, err := h.Catalog.Experiments(ctx)
		if err != nil {
			h.logger().Error("listing experiments failed", slog.Any("error", err))
			return internalError()
		}
		experiments = all
	}

	found := []foundItem{}
	for _, name := range experiments {
		colorgrams, err := h.Catalog.Colorgrams(ctx, name, query)
		if err != nil {
			h.logger().Error("colorgram lookup failed", slog.String("experiment", name), slog.Any("error", err))
			return internalError()
		}
		for _, cg := range colorgrams {
			found = append(found, foundItem{
				Doc:        cg.Doc,
				ImageBytes: base64.StdEncoding.EncodeToString(cg.Image),
			})
		}
	}

	if len(found) == 0 {
		h.logger().Info("no match for get request", slog.String("query", query))
		return map[string]any{
			"status":     http.StatusNotFound,
			"message":    "no colorgram for search term",
			"query":      query,
			"experiment": experiment,
		}
	}

	if singleValue {
		return map[string]any{"status": http.StatusOK, "found": found[0]}
	}
	return map[string]any{"status": http.StatusOK, "found": found}
}

func (h *Handler) listExperiments(ctx context.Context) map[string]any {
	experiments, err := h.Catalog.Experiments(ctx)
	if err != nil {
		h.logger().Error("listing experiments failed", slog.Any("error", err))
		return internalError()
	}
	return map[string]any{"status": http.StatusOK, "experiments": experiments}
}

func (h *Handler) listImageURLs(ctx context.Context, req request) map[string]any {
	if missing := req.missing("filter"); len(missing) > 0 {
		return missingKeys(missing)
	}

	filter, err := ParseFilter(req["filter"])
	if err != nil {
		return badRequest(err.Error())
	}

	urls, err := h.Catalog.ImageURLs(ctx, filter, MaxImageURLs)
	if err != nil {
		h.logger().Error("listing image urls failed", slog.Any("error", err))
		return internalError()
	}

	return map[string]any{"status": http.StatusOK, "image_urls": urls}
}

// ParseFilter parses a term filter: either a single {"term":{field:value}}
// clause or a list of them.
func ParseFilter(raw json.RawMessage) ([]Term, error) {
	type clause struct {
		Term map[string]any `json:"term"`
	}

	var clauses []clause
	if err := json.Unmarshal(raw, &clauses); err != nil {
		var single clause
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("invalid filter")
		}
		clauses = []clause{single}
	}

	var terms []Term
	for _, c := range clauses {
		if len(c.Term) == 0 {
			return nil, fmt.Errorf("invalid filter: empty term")
		}
		for field, value := range c.Term {
			terms = append(terms, Term{Field: field, Value: value})
		}
	}

	if len(terms) == 0 {
		return nil, fmt.Errorf("invalid filter: no terms")
	}

	return terms, nil
}

// OriginAllowed reports whether a browser Origin may open the data
// endpoint. Entries of allowed are either origins ("https://example.com")
// or host:port pairs ("example.com:443"). Requests without an Origin are
// not from browsers and always allowed, as is everything when allowed is
// empty.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	hostport := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		hostport = net.JoinHostPort(u.Hostname(), port)
	}

	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, hostport) {
			return true
		}
	}

	return false
}
