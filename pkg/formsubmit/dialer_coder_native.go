//go:build !js

package formsubmit

import "github.com/coder/websocket"

func (d CoderDialer) dialOptions() *websocket.DialOptions {
	return &websocket.DialOptions{
		HTTPHeader:      d.Header,
		CompressionMode: websocket.CompressionDisabled,
	}
}
