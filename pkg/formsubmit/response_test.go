package formsubmit_test

import (
	"errors"
	"testing"

	"github.com/fourtheye/imgserve/pkg/formsubmit"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		status    int
		succeeded bool
		image     string
	}{
		{"success", `{"status":200,"found":{"image_bytes":"QUJD"}}`, 200, true, "QUJD"},
		{"success float", `{"status":200.0,"found":{"image_bytes":"QUJD"}}`, 200, true, "QUJD"},
		{"success list", `{"status":200,"found":[{"image_bytes":"QUJD","doc":{}},{"image_bytes":"REVG"}]}`, 200, true, "QUJD"},
		{"not found", `{"status":404,"message":"no colorgram for search term"}`, 404, false, ""},
		{"server error", `{"status":500}`, 500, false, ""},
		{"no status", `{"found":{"image_bytes":"QUJD"}}`, 0, false, ""},
		{"string status", `{"status":"200","found":{"image_bytes":"QUJD"}}`, 0, false, ""},
		{"null status", `{"status":null}`, 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := formsubmit.DecodeResponse([]byte(tt.payload))
			if err != nil {
				t.Fatal(err)
			}

			if resp.Status != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Status)
			}

			if resp.Succeeded() != tt.succeeded {
				t.Fatalf("expected succeeded to be %t", tt.succeeded)
			}

			if !tt.succeeded {
				return
			}

			image, err := resp.ImageBytes()
			if err != nil {
				t.Fatal(err)
			}
			if image != tt.image {
				t.Fatalf("expected image bytes %q, got %q", tt.image, image)
			}
		})
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	for _, payload := range []string{`not json`, `null`, `{"status":200,"found":"QUJD"}`, `{"status":200`} {
		t.Run(payload, func(t *testing.T) {
			_, err := formsubmit.DecodeResponse([]byte(payload))

			var pe *formsubmit.ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected protocol error, got %v", err)
			}
		})
	}

	t.Run("bad base64", func(t *testing.T) {
		resp, err := formsubmit.DecodeResponse([]byte(`{"status":200,"found":{"image_bytes":"%%%"}}`))
		if err != nil {
			t.Fatal(err)
		}

		if _, err := resp.ImageBytes(); formsubmit.Classify(err) != formsubmit.OutcomeProtocolError {
			t.Fatalf("expected protocol error, got %v", err)
		}
	})
}

func TestDecodeResponseNotAnObject(t *testing.T) {
	for _, payload := range []string{`[]`, `42`, `"x"`, `true`, `[{"status":200}]`} {
		t.Run(payload, func(t *testing.T) {
			resp, err := formsubmit.DecodeResponse([]byte(payload))
			if err != nil {
				t.Fatal(err)
			}

			if resp.Status != 0 || resp.Succeeded() {
				t.Fatalf("expected no status, got %d", resp.Status)
			}

			if string(resp.Raw) != payload {
				t.Fatalf("expected raw payload %s, got %s", payload, resp.Raw)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	if got := formsubmit.DataURL("QUJD"); got != "data:image/png;base64,QUJD" {
		t.Fatalf("unexpected data url %q", got)
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := map[[2]formsubmit.State]bool{
		{formsubmit.Idle, formsubmit.Connecting}:   true,
		{formsubmit.Idle, formsubmit.Failed}:       true,
		{formsubmit.Connecting, formsubmit.Sent}:   true,
		{formsubmit.Connecting, formsubmit.Failed}: true,
		{formsubmit.Sent, formsubmit.Completed}:    true,
		{formsubmit.Sent, formsubmit.Failed}:       true,
	}

	states := []formsubmit.State{formsubmit.Idle, formsubmit.Connecting, formsubmit.Sent, formsubmit.Completed, formsubmit.Failed}

	for _, from := range states {
		for _, to := range states {
			if got := from.CanTransition(to); got != allowed[[2]formsubmit.State{from, to}] {
				t.Errorf("%v -> %v: expected %t, got %t", from, to, !got, got)
			}
		}
	}
}
