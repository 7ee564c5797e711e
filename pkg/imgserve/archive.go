package imgserve

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slog"
)

// ArchiveHandler serves GET /archive. With ?experiment=<name> it redirects
// to the download link stored as text in <Dir>/<name>; without it, it lists
// the experiments that have a link.
type ArchiveHandler struct {
	// Dir holds one file per experiment, containing its download link.
	Dir string

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

func (h *ArchiveHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().WithGroup("archive")
	}
	return h.Logger
}

// ServeHTTP implements http.Handler.
func (h *ArchiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("experiment") {
		writeJSON(w, http.StatusOK, map[string]any{"experiments": h.linked()})
		return
	}

	name := r.URL.Query().Get("experiment")
	log := h.logger().With(slog.String("experiment", name))

	link, err := h.link(name)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no download link", slog.Any("error", err))
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("No download link available for %s", name),
		})
		return
	}
	if err != nil {
		log.Error("reading download link failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	http.Redirect(w, r, link, http.StatusTemporaryRedirect)
}

// link returns the download link of an experiment. A missing, empty or
// non-absolute link is reported as fs.ErrNotExist.
func (h *ArchiveHandler) link(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid experiment name %q: %w", name, fs.ErrNotExist)
	}

	b, err := os.ReadFile(filepath.Join(h.Dir, name))
	if err != nil {
		return "", err
	}

	link := strings.TrimSpace(string(b))

	u, err := url.Parse(link)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("unusable download link %q: %w", link, fs.ErrNotExist)
	}

	return link, nil
}

// linked returns the names of the experiments with a download link.
func (h *ArchiveHandler) linked() []string {
	names := []string{}

	entries, _ := os.ReadDir(h.Dir)
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}

	return names
}
