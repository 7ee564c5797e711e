// Command imgserve serves colorgrams over the WebSocket data endpoint.
//
// Usage:
//
//	imgserve [-config imgserve.json] [-addr :8080] [-data-dir static/data] [-log-level info]
//
// Configuration is read from defaults, the optional JSON file, IMGSERVE_*
// environment variables and flags, in increasing priority. Users allowed to
// read experiments come from IMGSERVE_USER_<NAME>_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/fourtheye/imgserve/pkg/config"
	"github.com/fourtheye/imgserve/pkg/imgserve"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run is the main entry point, separated for testability.
// Returns the exit code.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("imgserve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath = fs.String("config", "", "path to a JSON config file")
		addr       = fs.String("addr", "", "listen address (default :8080)")
		dataDir    = fs.String("data-dir", "", "data directory (default static/data)")
		logLevel   = fs.String("log-level", "", "log level: debug, info, warn or error (default info)")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Only flags given on the command line override lower priority values.
	flags := &config.FlagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			flags.Addr = addr
		case "data-dir":
			flags.DataDir = dataDir
		case "log-level":
			flags.LogLevel = logLevel
		}
	})

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "imgserve: %v\n", err)
		return 2
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := serve(cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		return 1
	}

	return 0
}

func serve(cfg config.Config, logger *slog.Logger) error {
	catalog := imgserve.NewDirCatalog(cfg.DataDir, cfg.ListingTTL)
	catalog.Logger = logger.WithGroup("catalog")

	tls := cfg.TLSCert != ""

	handler := imgserve.NewHandler(imgserve.Options{
		Catalog:                 catalog,
		ExperimentsDir:          cfg.ExperimentsDir,
		StaticDir:               cfg.StaticDir,
		AllowedOrigins:          cfg.AllowedOrigins,
		Users:                   cfg.Users,
		RateLimit:               rate.Limit(cfg.RateLimit),
		RateBurst:               cfg.RateBurst,
		StrictTransportSecurity: tls,
		Logger:                  logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			slog.String("addr", cfg.Addr),
			slog.String("data_dir", cfg.DataDir),
			slog.Bool("tls", tls),
			slog.Any("users", cfg.UserNames()),
		)

		if tls {
			errc <- srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			return
		}
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
