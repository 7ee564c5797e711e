package imgserve_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/exp/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// png is not a real image, only bytes to round trip.
var png = []byte("\x89PNG\r\n\x1a\nutopia")

const rawImages = `{"image_id":"a1","image_url":"https://images.example/1.jpg","region":"us"}
{"image_id":"a1","image_url":"https://images.example/1.jpg","region":"eu"}
{"image_id":"b2","image_url":"https://images.example/2.jpg","region":"us"}
this line is not json

{"image_id":"c3","image_url":"https://images.example/3.jpg","region":"us","rank":3}
`

const concretenessCSV = "\xef\xbb\xbfsearch_term,region,category\n" +
	"utopia,US EU,abstract\n" +
	"justice,us,abstract\n" +
	"utopia,JP,concrete\n"

// newDataDir lays out a data directory:
//
//	colorgrams/concreteness/query=utopia|region=us.png
//	colorgrams/concreteness/justice.png
//	colorgrams/top-100/query=utopia.png
//	raw-images.jsonl
//	csv/experiments/concreteness.csv
//	csv/experiments/broken.csv
//	static/hello.txt
//	static/dropbox-links/concreteness
//	static/dropbox-links/broken
func newDataDir(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	files := map[string]string{
		"colorgrams/concreteness/query=utopia|region=us.png": string(png),
		"colorgrams/concreteness/justice.png":                "justice",
		"colorgrams/top-100/query=utopia.png":                "top",
		"raw-images.jsonl":                                   rawImages,
		"csv/experiments/concreteness.csv":                   concretenessCSV,
		"csv/experiments/broken.csv":                         "search_term,category\nutopia,abstract\n",
		"static/hello.txt":                                   "hello",
		"static/dropbox-links/concreteness":                  "https://www.dropbox.com/s/abc/concreteness.zip\n",
		"static/dropbox-links/broken":                        "not a link",
	}

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	return root
}
