// Package formsubmit collects values from a form, sends them as a single
// JSON request over a WebSocket connection, and updates an image target from
// the first message the endpoint answers with.
//
// An exchange moves through a small state machine:
//
//	Idle -> Connecting -> Sent -> Completed
//	  \          \          \
//	   +----------+----------+--> Failed
//
// Only the first inbound message is consulted; the connection is closed right
// after it. A status of 200 sets the image to a PNG data URL built from
// found.image_bytes and hides the instance's "selector" group. Any other
// status sets the image to [FallbackImageURL].
//
// Failures that leave no response are reported as typed errors, see
// [Classify].
package formsubmit
