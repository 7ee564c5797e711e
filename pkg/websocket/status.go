package websocket

// StatusCode represents a WebSocket close status code.
//
// https://tools.ietf.org/html/rfc6455#section-7.4
type StatusCode int

const (
	// StatusNormalClosure indicates a normal closure, meaning that the purpose
	// for which the connection was established has been fulfilled.
	StatusNormalClosure StatusCode = 1000

	// StatusGoingAway indicates that an endpoint is "going away", such as a server
	// going down or a browser having navigated away from a page.
	StatusGoingAway StatusCode = 1001

	// StatusProtocolError indicates that an endpoint is terminating the connection
	// due to a protocol error.
	StatusProtocolError StatusCode = 1002

	// StatusUnsupportedData indicates that an endpoint is terminating the connection
	// because it has received a type of data it cannot accept.
	StatusUnsupportedData StatusCode = 1003

	// StatusNoStatusRcvd indicates that no status code was provided even though one
	// was expected. It is never sent on the wire.
	StatusNoStatusRcvd StatusCode = 1005

	// StatusAbnormalClosure indicates the connection was closed without a close
	// frame. It is never sent on the wire.
	StatusAbnormalClosure StatusCode = 1006

	// StatusInvalidFramePayloadData indicates that an endpoint received data within
	// a message that was not consistent with the type of the message.
	StatusInvalidFramePayloadData StatusCode = 1007

	// StatusPolicyViolation indicates that an endpoint is terminating the connection
	// because it has received a message that violates its policy.
	StatusPolicyViolation StatusCode = 1008

	// StatusMessageTooBig indicates that an endpoint is terminating the connection
	// because it has received a message that is too big for it to process.
	StatusMessageTooBig StatusCode = 1009

	// StatusInternalServerErr indicates that a server is terminating the connection
	// because it encountered an unexpected condition.
	StatusInternalServerErr StatusCode = 1011
)
