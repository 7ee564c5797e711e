package imgserve

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/exp/slog"
)

const (
	regionColumn     = "region"
	searchTermColumn = "search_term"
)

// MissingColumnError is returned when an experiment CSV lacks a required
// column.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing a required column: %q", e.Column)
}

// Query is one search term of an experiment: the lower-cased regions it was
// run in plus the remaining CSV columns.
type Query map[string]any

// ReadExperiment reads an experiment CSV and groups its rows by search term.
// The region column holds space separated regions; rows sharing a search
// term accumulate their regions, and the other columns of the first such row
// are kept.
func ReadExperiment(r io.Reader) (map[string]Query, error) {
	br := bufio.NewReader(r)

	// Skip a UTF-8 byte order mark, spreadsheets like to write one.
	if b, err := br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MissingColumnError{Column: regionColumn}
	}
	if err != nil {
		return nil, err
	}

	index := map[string]int{}
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	for _, col := range []string{regionColumn, searchTermColumn} {
		if _, ok := index[col]; !ok {
			return nil, &MissingColumnError{Column: col}
		}
	}

	queries := map[string]Query{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		field := func(name string) string {
			if i := index[name]; i < len(record) {
				return record[i]
			}
			return ""
		}

		term := field(searchTermColumn)

		q, ok := queries[term]
		if !ok {
			q = Query{"regions": []string{}}
			for name := range index {
				if name != regionColumn && name != searchTermColumn {
					q[name] = field(name)
				}
			}
			queries[term] = q
		}

		regions := q["regions"].([]string)
		for _, region := range strings.Fields(field(regionColumn)) {
			regions = append(regions, strings.ToLower(region))
		}
		q["regions"] = regions
	}

	return queries, nil
}

// ExperimentsHandler serves GET /experiments/{name}: the experiment CSV at
// <Dir>/<name>.csv as JSON, grouped by search term.
type ExperimentsHandler struct {
	// Dir holds the experiment CSV files.
	Dir string

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

func (h *ExperimentsHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().WithGroup("experiments")
	}
	return h.Logger
}

// ServeHTTP implements http.Handler.
func (h *ExperimentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	log := h.logger().With(slog.String("experiment", name))

	f, err := h.open(name)
	if errors.Is(err, fs.ErrNotExist) {
		log.Error("experiment not found", slog.Any("error", err))
		writeJSON(w, http.StatusNotFound, map[string]any{
			"missing":   name,
			"inventory": h.inventory(),
		})
		return
	}
	if err != nil {
		log.Error("opening experiment failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	defer f.Close()

	queries, err := ReadExperiment(f)

	var mce *MissingColumnError
	switch {
	case errors.As(err, &mce):
		log.Error("invalid experiment", slog.Any("error", err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"invalid": name,
			"message": fmt.Sprintf("%s.csv was found, but is %v", name, err),
		})
	case err != nil:
		log.Error("reading experiment failed", slog.Any("error", err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"invalid": name,
			"message": fmt.Sprintf("%s.csv could not be parsed", name),
		})
	default:
		writeJSON(w, http.StatusOK, queries)
	}
}

func (h *ExperimentsHandler) open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid experiment name %q: %w", name, fs.ErrNotExist)
	}
	return os.Open(filepath.Join(h.Dir, name+".csv"))
}

// inventory returns the names of the available experiments.
func (h *ExperimentsHandler) inventory() []string {
	names := []string{}

	matches, _ := filepath.Glob(filepath.Join(h.Dir, "*.csv"))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	sort.Strings(names)

	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
