package formsubmit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// DefaultEndpoint is the data endpoint forms are submitted to.
const DefaultEndpoint = "wss://compsyn.fourtheye.xyz/data"

// DefaultTimeout bounds a whole exchange, from dial to the first message.
const DefaultTimeout = 30 * time.Second

// SelectorGroup is the element group hidden after a successful exchange.
const SelectorGroup = "selector"

// ImageTarget receives the image source picked from the response.
type ImageTarget interface {
	SetSource(src string) error
}

// ImageTargetFunc adapts a function to an ImageTarget.
type ImageTargetFunc func(src string) error

// SetSource calls f.
func (f ImageTargetFunc) SetSource(src string) error {
	return f(src)
}

// Hider hides an element group of a form instance.
type Hider interface {
	Hide(group, instance string)
}

// HiderFunc adapts a function to a Hider.
type HiderFunc func(group, instance string)

// Hide calls f.
func (f HiderFunc) Hide(group, instance string) {
	f(group, instance)
}

// Form is one instance of a form to submit.
type Form struct {
	// Action identifies the server side operation.
	Action string

	// Fields are read in order when the form is submitted.
	Fields []Field

	// Image receives the resulting image source.
	Image ImageTarget

	// Hider is called with SelectorGroup after a successful exchange.
	// It may be nil.
	Hider Hider

	// Instance distinguishes copies of the same form on one page.
	Instance string
}

// Submitter submits forms. Its fields are configuration only; a Submitter is
// safe for concurrent use and every Submit call is independent.
type Submitter struct {
	// Endpoint is the WebSocket URL. Defaults to DefaultEndpoint.
	Endpoint string

	// Dialer opens connections. Defaults to WebsocketDialer.
	Dialer Dialer

	// Timeout bounds each exchange. Zero means DefaultTimeout, a negative
	// value disables the timeout.
	Timeout time.Duration

	// FallbackURL is the image source for non-200 responses. Defaults to
	// FallbackImageURL.
	FallbackURL string

	// OnState, if set, observes every state transition of every exchange.
	OnState func(instance string, from, to State)

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

func (s *Submitter) endpoint() string {
	if s.Endpoint == "" {
		return DefaultEndpoint
	}
	return s.Endpoint
}

func (s *Submitter) dialer() Dialer {
	if s.Dialer == nil {
		return WebsocketDialer{}
	}
	return s.Dialer
}

func (s *Submitter) fallbackURL() string {
	if s.FallbackURL == "" {
		return FallbackImageURL
	}
	return s.FallbackURL
}

func (s *Submitter) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().WithGroup("formsubmit")
	}
	return s.Logger
}

// Submit runs one exchange for the form.
//
// On a response the image target is updated and the response is returned,
// whatever its status. On failure the image target is left untouched and
// the error is a *FieldError, *NetworkError, *TimeoutError or
// *ProtocolError; see Classify.
func (s *Submitter) Submit(ctx context.Context, form Form) (*Response, error) {
	x := &exchange{
		submitter: s,
		form:      form,
		state:     Idle,
		log: s.logger().With(
			slog.String("instance", form.Instance),
			slog.String("action", form.Action),
		),
	}

	resp, err := x.run(ctx)
	if err != nil {
		x.transition(Failed)
		x.log.Warn("submit failed", slog.String("outcome", Classify(err).String()), slog.Any("error", err))
		return nil, err
	}

	x.transition(Completed)
	return resp, nil
}

type exchange struct {
	submitter *Submitter
	form      Form
	state     State
	log       *slog.Logger
}

func (x *exchange) transition(to State) {
	if !x.state.CanTransition(to) {
		panic(fmt.Sprintf("formsubmit: invalid transition %v -> %v", x.state, to))
	}

	from := x.state
	x.state = to

	x.log.Debug("state", slog.String("from", from.String()), slog.String("to", to.String()))

	if x.submitter.OnState != nil {
		x.submitter.OnState(x.form.Instance, from, to)
	}
}

func (x *exchange) run(ctx context.Context) (*Response, error) {
	s := x.submitter

	if x.form.Image == nil {
		return nil, ErrNoImageTarget
	}

	req, err := NewRequest(x.form.Action, x.form.Fields)
	if err != nil {
		return nil, err
	}

	// json.Marshal would compact the payload again and escape HTML.
	payload, err := req.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("formsubmit: encode request: %w", err)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	x.transition(Connecting)

	endpoint := s.endpoint()

	conn, err := s.dialer().Dial(ctx, endpoint)
	if err != nil {
		return nil, transportError(ctx, "dial", err)
	}
	defer func() {
		// Messages after the first are never read; closing drops them.
		if err := conn.Close(); err != nil {
			x.log.Debug("websocket closing", slog.Any("error", err))
			return
		}
		x.log.Debug("websocket closing")
	}()

	x.log.Debug("sending request", slog.String("endpoint", endpoint), slog.String("request", string(payload)))

	if err := conn.WriteText(ctx, payload); err != nil {
		return nil, transportError(ctx, "write", err)
	}

	x.transition(Sent)

	msg, err := conn.ReadText(ctx)
	if err != nil {
		if errors.Is(err, ErrBinaryMessage) {
			return nil, &ProtocolError{Reason: "unexpected message type", Err: err}
		}
		return nil, transportError(ctx, "read", err)
	}

	resp, err := DecodeResponse(msg)
	if err != nil {
		return nil, err
	}

	x.log.Info("endpoint responded", slog.String("endpoint", endpoint), slog.Int("status", resp.Status))

	if !resp.Succeeded() {
		if err := x.form.Image.SetSource(s.fallbackURL()); err != nil {
			return nil, fmt.Errorf("formsubmit: set fallback image: %w", err)
		}
		return resp, nil
	}

	imageBytes, err := resp.ImageBytes()
	if err != nil {
		return nil, err
	}

	if err := x.form.Image.SetSource(DataURL(imageBytes)); err != nil {
		return nil, fmt.Errorf("formsubmit: set image: %w", err)
	}

	if x.form.Hider != nil {
		x.form.Hider.Hide(SelectorGroup, x.form.Instance)
	}

	return resp, nil
}
