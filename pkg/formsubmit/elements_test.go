package formsubmit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fourtheye/imgserve/pkg/formsubmit"
)

type element struct {
	value string
	src   string
}

func (e *element) Value() string        { return e.value }
func (e *element) SetSource(src string) { e.src = src }

type document map[string]*element

func (d document) ElementByID(id string) (formsubmit.Element, bool) {
	el, ok := d[id]
	if !ok {
		return nil, false
	}
	return el, true
}

func TestBindForm(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		doc := document{
			"experiment-7": {value: "concreteness "},
			"get-7":        {value: "\tutopia"},
			"colorgram-7":  {},
		}

		var hidden []string
		hider := formsubmit.HiderFunc(func(group, instance string) {
			hidden = append(hidden, formsubmit.ElementID(group, instance))
		})

		form, err := formsubmit.BindForm(doc, "get", []string{"experiment", "get"}, "colorgram", "7", hider)
		if err != nil {
			t.Fatal(err)
		}

		conn := &fakeConn{replies: [][]byte{[]byte(`{"status":200,"found":{"image_bytes":"QUJD"}}`)}}

		s := &formsubmit.Submitter{Dialer: &fakeDialer{conn: conn}, Logger: discard}

		if _, err := s.Submit(context.Background(), form); err != nil {
			t.Fatal(err)
		}

		if string(conn.written[0]) != `{"action":"get","experiment":"concreteness","get":"utopia"}` {
			t.Fatalf("unexpected request %s", conn.written[0])
		}

		if doc["colorgram-7"].src != "data:image/png;base64,QUJD" {
			t.Fatalf("unexpected image source %q", doc["colorgram-7"].src)
		}

		if len(hidden) != 1 || hidden[0] != "selector-7" {
			t.Fatalf("expected selector-7 to be hidden, got %v", hidden)
		}
	})

	t.Run("missing field element", func(t *testing.T) {
		doc := document{
			"experiment-7": {value: "concreteness"},
			"colorgram-7":  {},
		}

		_, err := formsubmit.BindForm(doc, "get", []string{"experiment", "get"}, "colorgram", "7", nil)

		var fe *formsubmit.FieldError
		if !errors.As(err, &fe) || fe.ID != "get-7" {
			t.Fatalf("expected field error for get-7, got %v", err)
		}

		if !errors.Is(err, formsubmit.ErrMissingElement) {
			t.Fatalf("expected %v, got %v", formsubmit.ErrMissingElement, err)
		}
	})

	t.Run("missing image element", func(t *testing.T) {
		doc := document{"get-7": {value: "utopia"}}

		_, err := formsubmit.BindForm(doc, "get", []string{"get"}, "colorgram", "7", nil)
		if !errors.Is(err, formsubmit.ErrMissingElement) {
			t.Fatalf("expected %v, got %v", formsubmit.ErrMissingElement, err)
		}
	})
}
