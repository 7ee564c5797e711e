package imgserve_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fourtheye/imgserve/pkg/imgserve"
)

func TestDirCatalog(t *testing.T) {
	ctx := context.Background()

	root := newDataDir(t)

	catalog := imgserve.NewDirCatalog(root, time.Hour)
	catalog.Logger = discard

	t.Run("experiments", func(t *testing.T) {
		names, err := catalog.Experiments(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if want := []string{"concreteness", "top-100"}; !reflect.DeepEqual(names, want) {
			t.Fatalf("expected %v, got %v", want, names)
		}
	})

	t.Run("colorgrams", func(t *testing.T) {
		found, err := catalog.Colorgrams(ctx, "concreteness", "utopia")
		if err != nil {
			t.Fatal(err)
		}

		if len(found) != 1 {
			t.Fatalf("expected one colorgram, got %d", len(found))
		}

		want := map[string]any{"query": "utopia", "region": "us", "experiment_name": "concreteness"}
		if !reflect.DeepEqual(found[0].Doc, want) {
			t.Fatalf("expected doc %v, got %v", want, found[0].Doc)
		}

		if string(found[0].Image) != string(png) {
			t.Fatalf("unexpected image bytes %q", found[0].Image)
		}
	})

	t.Run("bare file name", func(t *testing.T) {
		found, err := catalog.Colorgrams(ctx, "concreteness", "justice")
		if err != nil {
			t.Fatal(err)
		}

		if len(found) != 1 || found[0].Doc["query"] != "justice" {
			t.Fatalf("expected the justice colorgram, got %v", found)
		}
	})

	t.Run("no match", func(t *testing.T) {
		for _, experiment := range []string{"concreteness", "unknown", "..", "../colorgrams", ""} {
			found, err := catalog.Colorgrams(ctx, experiment, "dystopia")
			if err != nil {
				t.Fatal(err)
			}

			if len(found) != 0 {
				t.Fatalf("%q: expected nothing, got %v", experiment, found)
			}
		}
	})

	t.Run("listing is cached", func(t *testing.T) {
		if _, err := catalog.Colorgrams(ctx, "top-100", "utopia"); err != nil {
			t.Fatal(err)
		}

		path := filepath.Join(root, "colorgrams", "top-100", "query=justice.png")
		if err := os.WriteFile(path, []byte("new"), 0o644); err != nil {
			t.Fatal(err)
		}

		found, err := catalog.Colorgrams(ctx, "top-100", "justice")
		if err != nil {
			t.Fatal(err)
		}

		if len(found) != 0 {
			t.Fatalf("expected the cached listing to be used, got %v", found)
		}

		fresh := imgserve.NewDirCatalog(root, time.Hour)
		fresh.Logger = discard

		found, err = fresh.Colorgrams(ctx, "top-100", "justice")
		if err != nil {
			t.Fatal(err)
		}

		if len(found) != 1 {
			t.Fatalf("expected a new catalog to see the file, got %v", found)
		}
	})

	t.Run("image urls", func(t *testing.T) {
		tests := []struct {
			name   string
			filter []imgserve.Term
			limit  int
			want   []string
		}{
			{
				name:   "distinct",
				filter: []imgserve.Term{{Field: "image_id", Value: "a1"}},
				want:   []string{"https://images.example/1.jpg"},
			},
			{
				name:   "all terms",
				filter: []imgserve.Term{{Field: "region", Value: "us"}, {Field: "image_id", Value: "b2"}},
				want:   []string{"https://images.example/2.jpg"},
			},
			{
				name:   "number",
				filter: []imgserve.Term{{Field: "rank", Value: float64(3)}},
				want:   []string{"https://images.example/3.jpg"},
			},
			{
				name:   "limit",
				filter: []imgserve.Term{{Field: "region", Value: "us"}},
				limit:  2,
				want:   []string{"https://images.example/1.jpg", "https://images.example/2.jpg"},
			},
			{
				name:   "none",
				filter: []imgserve.Term{{Field: "image_id", Value: "zz"}},
				want:   []string{},
			},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				urls, err := catalog.ImageURLs(ctx, test.filter, test.limit)
				if err != nil {
					t.Fatal(err)
				}

				if !reflect.DeepEqual(urls, test.want) {
					t.Fatalf("expected %v, got %v", test.want, urls)
				}
			})
		}
	})

	t.Run("zero value", func(t *testing.T) {
		zero := &imgserve.DirCatalog{Root: root, Logger: discard}

		found, err := zero.Colorgrams(ctx, "concreteness", "utopia")
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 1 || string(found[0].Image) != string(png) {
			t.Fatalf("expected the utopia colorgram, got %d", len(found))
		}

		urls, err := (&imgserve.DirCatalog{Root: root}).ImageURLs(ctx, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(urls) == 0 {
			t.Fatal("expected image urls from a zero value catalog")
		}
	})

	t.Run("empty data directory", func(t *testing.T) {
		empty := imgserve.NewDirCatalog(t.TempDir(), time.Hour)

		names, err := empty.Experiments(ctx)
		if err != nil || len(names) != 0 {
			t.Fatalf("expected no experiments, got %v, %v", names, err)
		}

		urls, err := empty.ImageURLs(ctx, nil, 0)
		if err != nil || len(urls) != 0 {
			t.Fatalf("expected no image urls, got %v, %v", urls, err)
		}
	})
}
