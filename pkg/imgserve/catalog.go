package imgserve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/store"
)

// Colorgram is a single matching colorgram: its metadata document and the
// PNG image bytes.
type Colorgram struct {
	Doc   map[string]any
	Image []byte
}

// Term is a single exact-match filter on an image document field.
type Term struct {
	Field string
	Value any
}

func (t Term) match(doc map[string]any) bool {
	v, ok := doc[t.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(t.Value)
}

// Catalog looks up experiments, colorgrams and raw image URLs.
type Catalog interface {
	// Experiments returns the names of all experiments, sorted.
	Experiments(ctx context.Context) ([]string, error)

	// Colorgrams returns the colorgrams of the experiment whose query is the
	// given search term. An unknown experiment has no colorgrams.
	Colorgrams(ctx context.Context, experiment, query string) ([]Colorgram, error)

	// ImageURLs returns up to limit distinct image URLs of raw images
	// matching every term of the filter.
	ImageURLs(ctx context.Context, filter []Term, limit int) ([]string, error)
}

// DefaultListingTTL is how long DirCatalog caches a directory listing.
const DefaultListingTTL = time.Minute

// colorgramFile is a colorgram found on disk, before its image is read.
type colorgramFile struct {
	Path string
	Doc  map[string]any
}

// DirCatalog is a Catalog backed by a data directory:
//
//	<root>/colorgrams/<experiment>/<key=value|key=value>.png
//	<root>/raw-images.jsonl
//
// Colorgram file names carry the colorgram document as key=value pairs
// separated by "|"; a name without "=" is taken as the query alone.
// Raw images are one JSON document per line with at least an "image_url".
//
// The zero value serves Root with DefaultListingTTL and the default logger.
type DirCatalog struct {
	// Root is the data directory.
	Root string

	// Logger is the logger used to log messages.
	Logger *slog.Logger

	once     sync.Once
	listings *store.Memory[[]colorgramFile]
}

// NewDirCatalog returns a catalog over root that caches experiment listings
// for ttl.
func NewDirCatalog(root string, ttl time.Duration) *DirCatalog {
	return &DirCatalog{
		Root:     root,
		Logger:   slog.Default().WithGroup("catalog"),
		listings: store.NewMemory[[]colorgramFile](ttl),
	}
}

func (c *DirCatalog) init() {
	c.once.Do(func() {
		if c.listings == nil {
			c.listings = store.NewMemory[[]colorgramFile](DefaultListingTTL)
		}
		if c.Logger == nil {
			c.Logger = slog.Default().WithGroup("catalog")
		}
	})
}

func (c *DirCatalog) colorgramsDir() string {
	return filepath.Join(c.Root, "colorgrams")
}

// Experiments implements Catalog.
func (c *DirCatalog) Experiments(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.colorgramsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("imgserve: list experiments: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

// validName reports whether name can be used as a single path element.
func validName(name string) bool {
	return name != "" && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}

// listing returns the colorgram files of an experiment, from the cache when
// possible.
func (c *DirCatalog) listing(experiment string) ([]colorgramFile, error) {
	if files, err := c.listings.Get(experiment); err == nil {
		return *files, nil
	}

	dir := filepath.Join(c.colorgramsDir(), experiment)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("imgserve: list colorgrams of %q: %w", experiment, err)
	}

	files := make([]colorgramFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		files = append(files, colorgramFile{
			Path: filepath.Join(dir, e.Name()),
			Doc:  parseColorgramName(experiment, strings.TrimSuffix(e.Name(), ".png")),
		})
	}

	c.listings.Set(experiment, files)
	c.Logger.Debug("listed colorgrams", slog.String("experiment", experiment), slog.Int("count", len(files)))

	return files, nil
}

func parseColorgramName(experiment, stem string) map[string]any {
	doc := map[string]any{}

	if !strings.Contains(stem, "=") {
		doc["query"] = stem
	} else {
		for _, pair := range strings.Split(stem, "|") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				continue
			}
			doc[k] = v
		}
	}

	doc["experiment_name"] = experiment

	return doc
}

// Colorgrams implements Catalog.
func (c *DirCatalog) Colorgrams(ctx context.Context, experiment, query string) ([]Colorgram, error) {
	if !validName(experiment) {
		return nil, nil
	}

	c.init()

	files, err := c.listing(experiment)
	if err != nil {
		return nil, err
	}

	var found []Colorgram
	for _, f := range files {
		if f.Doc["query"] != query {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := os.ReadFile(f.Path)
		if errors.Is(err, fs.ErrNotExist) {
			// Removed since it was listed.
			c.listings.Delete(experiment)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("imgserve: read colorgram: %w", err)
		}

		found = append(found, Colorgram{Doc: f.Doc, Image: b})
	}

	if len(found) > 1 {
		c.Logger.Info("more than one colorgram", slog.String("experiment", experiment), slog.String("query", query), slog.Int("count", len(found)))
	}

	return found, nil
}

// ImageURLs implements Catalog.
func (c *DirCatalog) ImageURLs(ctx context.Context, filter []Term, limit int) ([]string, error) {
	c.init()

	f, err := os.Open(filepath.Join(c.Root, "raw-images.jsonl"))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("imgserve: open raw images: %w", err)
	}
	defer f.Close()

	var (
		urls = []string{}
		seen = map[string]bool{}
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := scanner.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			c.Logger.Warn("skipping raw image document", slog.Int("line", line), slog.Any("error", err))
			continue
		}

		if !matchAll(filter, doc) {
			continue
		}

		u, ok := doc["image_url"].(string)
		if !ok || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)

		if limit > 0 && len(urls) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("imgserve: read raw images: %w", err)
	}

	return urls, nil
}

func matchAll(filter []Term, doc map[string]any) bool {
	for _, t := range filter {
		if !t.match(doc) {
			return false
		}
	}
	return true
}
