package formsubmit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
)

// StatusOK is the only status that carries an image.
const StatusOK = 200

// FallbackImageURL is shown when the endpoint does not answer with StatusOK.
const FallbackImageURL = "https://www.publicdomainpictures.net/pictures/280000/velka/not-found-image-15383864787lu.jpg"

// Found is the payload of a successful response.
type Found struct {
	// ImageBytes is the base64 encoded PNG.
	ImageBytes string `json:"image_bytes"`

	// Doc is the catalog document describing the image.
	Doc json.RawMessage `json:"doc,omitempty"`
}

// Response is the first message received from the endpoint.
type Response struct {
	// Status is the numeric status, or 0 when it is absent or not an
	// integral number.
	Status int

	// Message is the endpoint's explanation for non-200 statuses.
	Message string

	// Found is set for successful responses. A list of results is reduced
	// to its first element.
	Found *Found

	// Raw is the message as received.
	Raw json.RawMessage
}

// Succeeded reports whether the status is StatusOK.
func (r *Response) Succeeded() bool {
	return r.Status == StatusOK
}

// ImageBytes returns found.image_bytes of a successful response, checked to
// be valid base64.
func (r *Response) ImageBytes() (string, error) {
	if r.Found == nil || r.Found.ImageBytes == "" {
		return "", &ProtocolError{Reason: "response has no found.image_bytes"}
	}

	if _, err := base64.StdEncoding.DecodeString(r.Found.ImageBytes); err != nil {
		return "", &ProtocolError{Reason: "found.image_bytes is not base64", Err: err}
	}

	return r.Found.ImageBytes, nil
}

// DecodeResponse parses an inbound message. Invalid JSON and null are a
// *ProtocolError. Any other JSON value that is not an object has no status
// and decodes to a Response with Status 0.
func DecodeResponse(data []byte) (*Response, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ProtocolError{Reason: "malformed response", Err: err}
	}
	if v == nil {
		return nil, &ProtocolError{Reason: "response is null"}
	}

	resp := &Response{
		Raw: append(json.RawMessage(nil), data...),
	}

	if _, ok := v.(map[string]any); !ok {
		return resp, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ProtocolError{Reason: "malformed response", Err: err}
	}

	resp.Status = parseStatus(fields["status"])

	if raw, ok := fields["message"]; ok {
		// Messages are informational, a non-string one is ignored.
		_ = json.Unmarshal(raw, &resp.Message)
	}

	if raw, ok := fields["found"]; ok && resp.Succeeded() {
		found, err := decodeFound(raw)
		if err != nil {
			return nil, &ProtocolError{Reason: "malformed found", Err: err}
		}
		resp.Found = found
	}

	return resp, nil
}

// parseStatus accepts only JSON numbers with an integral value; strings
// such as "200" do not count.
func parseStatus(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0
	}

	return int(f)
}

func decodeFound(raw json.RawMessage) (*Found, error) {
	raw = bytes.TrimSpace(raw)

	if len(raw) > 0 && raw[0] == '[' {
		var list []Found
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	var found *Found
	if err := json.Unmarshal(raw, &found); err != nil {
		return nil, err
	}
	return found, nil
}

// DataURL returns the image source for base64 encoded PNG bytes.
func DataURL(imageBytes string) string {
	return "data:image/png;base64," + imageBytes
}
