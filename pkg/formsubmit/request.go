package formsubmit

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ValueSource supplies the current value of a form field.
type ValueSource interface {
	Value() (string, error)
}

// ValueFunc adapts a function to a ValueSource.
type ValueFunc func() (string, error)

// Value calls f.
func (f ValueFunc) Value() (string, error) {
	return f()
}

// StaticValue is a ValueSource with a fixed value.
type StaticValue string

// Value returns v.
func (v StaticValue) Value() (string, error) {
	return string(v), nil
}

// Field is one named input collected from the form.
type Field struct {
	// Name is the request key the value is sent under.
	Name string

	// Source reads the field's current value.
	Source ValueSource
}

// Request is the outbound message: the action followed by one trimmed value
// per field, serialized in insertion order.
type Request struct {
	keys   []string
	values map[string]string
}

// NewRequest reads every field in order and builds the request. The first
// field that cannot be read aborts with a *FieldError.
func NewRequest(action string, fields []Field) (*Request, error) {
	r := &Request{values: make(map[string]string, len(fields)+1)}

	r.set("action", action)

	for _, f := range fields {
		if f.Source == nil {
			return nil, &FieldError{Name: f.Name, Err: ErrMissingElement}
		}

		v, err := f.Source.Value()
		if err != nil {
			return nil, &FieldError{Name: f.Name, Err: err}
		}

		r.set(f.Name, strings.TrimSpace(v))
	}

	return r, nil
}

// set assigns a value. A repeated key keeps its first position and takes
// the new value.
func (r *Request) set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Action returns the action the request asks the endpoint to perform.
func (r *Request) Action() string {
	return r.values["action"]
}

// Get returns the value sent under key.
func (r *Request) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the request keys in serialization order.
func (r *Request) Keys() []string {
	return append([]string(nil), r.keys...)
}

// MarshalJSON encodes the request as a single JSON object with keys in
// insertion order.
func (r *Request) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, r.values[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer

	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}

	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
