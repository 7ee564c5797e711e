package imgserve_test

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/fourtheye/imgserve/pkg/formsubmit"
	"github.com/fourtheye/imgserve/pkg/imgserve"
	"github.com/fourtheye/imgserve/pkg/websocket"
)

func newServer(t *testing.T, opts imgserve.Options) *httptest.Server {
	t.Helper()

	root := newDataDir(t)

	catalog := imgserve.NewDirCatalog(root, time.Hour)
	catalog.Logger = discard

	opts.Catalog = catalog
	opts.ExperimentsDir = filepath.Join(root, "csv", "experiments")
	opts.StaticDir = filepath.Join(root, "static")
	opts.Logger = discard

	s := httptest.NewServer(imgserve.NewHandler(opts))
	t.Cleanup(s.Close)

	return s
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/data"
}

func TestNewHandler(t *testing.T) {
	s := newServer(t, imgserve.Options{
		AllowedOrigins: []string{"https://compsyn.example"},
		Users:          map[string]string{"compsyn": "hunter2"},
	})

	t.Run("submit", func(t *testing.T) {
		var src string

		submitter := &formsubmit.Submitter{
			Endpoint: wsURL(s),
			Timeout:  5 * time.Second,
			Logger:   discard,
		}

		form := formsubmit.Form{
			Action: "get",
			Fields: []formsubmit.Field{
				{Name: "experiment", Source: formsubmit.StaticValue("concreteness")},
				{Name: "get", Source: formsubmit.StaticValue("utopia")},
			},
			Image: formsubmit.ImageTargetFunc(func(source string) error {
				src = source
				return nil
			}),
		}

		resp, err := submitter.Submit(context.Background(), form)
		if err != nil {
			t.Fatal(err)
		}

		b, err := resp.ImageBytes()
		if err != nil {
			t.Fatal(err)
		}

		if b != base64.StdEncoding.EncodeToString(png) {
			t.Fatalf("unexpected image bytes %q", b)
		}

		if !strings.HasPrefix(src, "data:image/png;base64,") {
			t.Fatalf("expected a data URL, got %q", src)
		}

		form.Fields[1].Source = formsubmit.StaticValue("dystopia")

		if _, err := submitter.Submit(context.Background(), form); err != nil {
			t.Fatal(err)
		}

		if src != formsubmit.FallbackImageURL {
			t.Fatalf("expected the fallback image, got %q", src)
		}
	})

	t.Run("origin", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, resp, err := websocket.Dial(ctx, wsURL(s), websocket.WithOrigin("https://evil.example"))
		if err == nil {
			t.Fatal("expected the upgrade to be refused")
		}

		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected status code %d, got %v", http.StatusForbidden, resp)
		}

		conn, _, err := websocket.Dial(ctx, wsURL(s), websocket.WithOrigin("https://compsyn.example"))
		if err != nil {
			t.Fatal(err)
		}
		conn.Close()
	})

	t.Run("experiments", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, s.URL+"/experiments/concreteness", nil)
		if err != nil {
			t.Fatal(err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected status code %d, got %d", http.StatusUnauthorized, resp.StatusCode)
		}

		req.SetBasicAuth("compsyn", "hunter2")

		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status code %d, got %d", http.StatusOK, resp.StatusCode)
		}
	})

	t.Run("archive", func(t *testing.T) {
		client := &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}

		req, err := http.NewRequest(http.MethodGet, s.URL+"/archive?experiment=concreteness", nil)
		if err != nil {
			t.Fatal(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected status code %d, got %d", http.StatusUnauthorized, resp.StatusCode)
		}

		req.SetBasicAuth("compsyn", "hunter2")

		resp, err = client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusTemporaryRedirect {
			t.Fatalf("expected status code %d, got %d", http.StatusTemporaryRedirect, resp.StatusCode)
		}

		if loc := resp.Header.Get("Location"); loc != "https://www.dropbox.com/s/abc/concreteness.zip" {
			t.Fatalf("unexpected location %q", loc)
		}
	})

	t.Run("static", func(t *testing.T) {
		resp, err := http.Get(s.URL + "/static/hello.txt")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}

		if string(b) != "hello" {
			t.Fatalf("unexpected body %q", b)
		}

		if resp.Header.Get("Content-Security-Policy") == "" {
			t.Fatal("expected security headers")
		}
	})
}

func TestNewHandlerRateLimit(t *testing.T) {
	s := newServer(t, imgserve.Options{
		RateLimit: rate.Every(time.Hour),
		RateBurst: 1,
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		resp, err := http.Get(s.URL + "/static/hello.txt")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != want {
			t.Fatalf("request %d: expected status code %d, got %d", i, want, resp.StatusCode)
		}
	}
}
