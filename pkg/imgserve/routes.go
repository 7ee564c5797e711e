package imgserve

import (
	"net/http"
	"path/filepath"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/fourtheye/imgserve/pkg/basicauth"
	"github.com/fourtheye/imgserve/pkg/ratelimit"
	"github.com/fourtheye/imgserve/pkg/secureheaders"
)

// Options configures the routes of NewHandler.
type Options struct {
	// Catalog answers data endpoint requests.
	Catalog Catalog

	// ExperimentsDir holds the experiment CSV files.
	ExperimentsDir string

	// StaticDir is served under /static/ when set.
	StaticDir string

	// ArchiveDir holds the experiment download links. It defaults to
	// <StaticDir>/dropbox-links.
	ArchiveDir string

	// AllowedOrigins restricts browser origins of the data endpoint.
	AllowedOrigins []string

	// Users may read experiments and archive links. With no users those
	// routes are not registered.
	Users map[string]string

	// RateLimit and RateBurst limit requests per client. A zero RateLimit
	// disables rate limiting.
	RateLimit rate.Limit
	RateBurst int

	// StrictTransportSecurity enables the HSTS header.
	StrictTransportSecurity bool

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

// NewHandler returns the imgserve HTTP handler:
//
//	GET /data                WebSocket data endpoint
//	GET /experiments/{name}  experiment CSV as JSON, behind basic auth
//	GET /archive             experiment download links, behind basic auth
//	GET /static/...          static files
//
// Every route is rate limited per client and carries security headers.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /data", &Handler{
		Catalog:        opts.Catalog,
		AllowedOrigins: opts.AllowedOrigins,
		Logger:         logger.WithGroup("data"),
	})

	if len(opts.Users) > 0 {
		mux.Handle("GET /experiments/{name}", &basicauth.Handler{
			Users:  opts.Users,
			Logger: logger.WithGroup("basicauth"),
			Next: &ExperimentsHandler{
				Dir:    opts.ExperimentsDir,
				Logger: logger.WithGroup("experiments"),
			},
		})

		archiveDir := opts.ArchiveDir
		if archiveDir == "" && opts.StaticDir != "" {
			archiveDir = filepath.Join(opts.StaticDir, "dropbox-links")
		}
		if archiveDir != "" {
			mux.Handle("GET /archive", &basicauth.Handler{
				Users:  opts.Users,
				Logger: logger.WithGroup("basicauth"),
				Next: &ArchiveHandler{
					Dir:    archiveDir,
					Logger: logger.WithGroup("archive"),
				},
			})
		}
	}

	if opts.StaticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	limited := &ratelimit.Handler{
		Limit:         opts.RateLimit,
		Burst:         opts.RateBurst,
		SetRetryAfter: true,
		Next:          mux,
	}

	return secureheaders.Handler{
		StrictTransportSecurity: opts.StrictTransportSecurity,
		Next:                    limited,
	}
}
