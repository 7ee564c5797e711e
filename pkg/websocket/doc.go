// Package websocket provides a small implementation of the WebSocket protocol,
// enough for one-shot request/response exchanges between a form client and the
// data endpoint.
//
// Clients use [Dial] with a ws:// or wss:// URL. Servers use [Upgrade] (or an
// [Upgrader] for origin checks) inside a regular net/http handler.
//
// Diagram
//
//	+----------------+                          +----------------+
//	|     Client     |                          |     Server     |
//	+----------------+                          +----------------+
//	         |                                           |
//	         |------------ GET /data HTTP/1.1 ---------->|
//	         |                                           |
//	         |<- - HTTP/1.1 101 Switching Protocols - - -|
//	         |                                           |
//	         |---- Frame: TextFrame, {"action":...} ---->|
//	         |                                           |
//	         |<---- Frame: TextFrame, {"status":...} ----|
//	         |                                           |
//	         |<------------- Frame: Close -------------->|
//	         .                                           .
//
// Frames written by clients are masked, frames written by servers are not.
//
// https://www.rfc-editor.org/rfc/rfc6455
package websocket
