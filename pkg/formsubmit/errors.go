package formsubmit

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrMissingElement is returned when a field or the image target cannot
	// be found. It always fails before any network activity.
	ErrMissingElement = errors.New("formsubmit: element not found")

	// ErrNoImageTarget is returned by Submit when the form has no image target.
	ErrNoImageTarget = errors.New("formsubmit: form has no image target")

	// ErrBinaryMessage is returned by a Conn when the first inbound message
	// is not a text message.
	ErrBinaryMessage = errors.New("formsubmit: received binary message")
)

// FieldError reports a field whose value could not be read.
type FieldError struct {
	// Name is the field name.
	Name string

	// ID is the element id the field was looked up by, if any.
	ID string

	Err error
}

func (e *FieldError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("formsubmit: field %q (element %q): %v", e.Name, e.ID, e.Err)
	}
	return fmt.Sprintf("formsubmit: field %q: %v", e.Name, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// NetworkError reports a failure to dial, send or receive.
type NetworkError struct {
	// Op is one of "dial", "write" or "read".
	Op string

	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("formsubmit: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports that the exchange did not finish before its
// deadline.
type TimeoutError struct {
	// Op is the operation in flight when the deadline passed.
	Op string

	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("formsubmit: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout reports true, matching net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// ProtocolError reports a response that could not be understood.
type ProtocolError struct {
	Reason string

	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "formsubmit: protocol error: " + e.Reason
	}
	return fmt.Sprintf("formsubmit: protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// transportError wraps an error from the transport as a *TimeoutError when
// the deadline passed, or as a *NetworkError otherwise.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}

	return &NetworkError{Op: op, Err: err}
}

// Outcome classifies the result of Submit.
type Outcome int

const (
	// OutcomeOK means a response was received and applied, whatever its status.
	OutcomeOK Outcome = iota
	// OutcomeAborted means the form could not be read; nothing was sent.
	OutcomeAborted
	// OutcomeNetworkError means the connection failed.
	OutcomeNetworkError
	// OutcomeProtocolError means the response could not be understood.
	OutcomeProtocolError
	// OutcomeTimeout means the exchange ran past its deadline.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAborted:
		return "aborted"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeProtocolError:
		return "protocol_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Classify maps an error returned by Submit to an Outcome.
func Classify(err error) Outcome {
	var (
		fe *FieldError
		te *TimeoutError
		pe *ProtocolError
	)

	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &fe), errors.Is(err, ErrMissingElement), errors.Is(err, ErrNoImageTarget):
		return OutcomeAborted
	case errors.As(err, &te):
		return OutcomeTimeout
	case errors.As(err, &pe):
		return OutcomeProtocolError
	default:
		return OutcomeNetworkError
	}
}
