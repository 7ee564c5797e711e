// Command imgform submits a form to the imgserve data endpoint from the
// command line, the way the page does it.
//
// Usage:
//
//	imgform [-endpoint wss://...] [-action get] -field experiment=concreteness -field get=utopia [-out utopia.png]
//
// On a 200 response the image is written to -out, or its data URL is printed.
// Any other status prints the fallback image URL. The exit code is 0 when a
// response was received, 1 when the exchange failed and 2 on usage errors.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/config"
	"github.com/fourtheye/imgserve/pkg/formsubmit"
)

// fieldFlags collects repeated -field name=value flags in order.
type fieldFlags []formsubmit.Field

func (f *fieldFlags) String() string {
	names := make([]string, len(*f))
	for i, field := range *f {
		names[i] = field.Name
	}
	return strings.Join(names, ",")
}

func (f *fieldFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("field must be name=value, got %q", s)
	}
	*f = append(*f, formsubmit.Field{Name: name, Source: formsubmit.StaticValue(value)})
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

// run is the main entry point, separated for testability.
// Returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("imgform", flag.ContinueOnError)
	fs.SetOutput(stderr)

	endpoint := formsubmit.DefaultEndpoint
	if v := getenv("IMGFORM_ENDPOINT"); v != "" {
		endpoint = v
	}

	var fields fieldFlags

	fs.StringVar(&endpoint, "endpoint", endpoint, "data endpoint URL (env IMGFORM_ENDPOINT)")
	action := fs.String("action", "get", "request action")
	fs.Var(&fields, "field", "request field as name=value, repeatable")
	instance := fs.String("instance", "cli", "form instance, used in logs")
	out := fs.String("out", "", "write the PNG of a 200 response to this file")
	timeout := fs.Duration("timeout", formsubmit.DefaultTimeout, "exchange timeout, negative disables it")
	transport := fs.String("transport", "native", "websocket implementation: native or coder")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "imgform: unexpected arguments %q\n", fs.Args())
		return 2
	}

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "imgform: %v\n", err)
		return 2
	}

	var dialer formsubmit.Dialer
	switch *transport {
	case "native":
		dialer = formsubmit.WebsocketDialer{}
	case "coder":
		dialer = formsubmit.CoderDialer{}
	default:
		fmt.Fprintf(stderr, "imgform: unknown transport %q\n", *transport)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var source string

	submitter := &formsubmit.Submitter{
		Endpoint: endpoint,
		Dialer:   dialer,
		Timeout:  *timeout,
		Logger:   logger,
	}

	resp, err := submitter.Submit(ctx, formsubmit.Form{
		Action: *action,
		Fields: fields,
		Image: formsubmit.ImageTargetFunc(func(src string) error {
			source = src
			return nil
		}),
		Instance: *instance,
	})
	if err != nil {
		fmt.Fprintf(stderr, "imgform: %s: %v\n", formsubmit.Classify(err), err)
		return 1
	}

	if !resp.Succeeded() || *out == "" {
		fmt.Fprintln(stdout, source)
		return 0
	}

	imageBytes, err := resp.ImageBytes()
	if err != nil {
		fmt.Fprintf(stderr, "imgform: %v\n", err)
		return 1
	}

	png, err := base64.StdEncoding.DecodeString(imageBytes)
	if err != nil {
		fmt.Fprintf(stderr, "imgform: %v\n", err)
		return 1
	}

	if err := os.WriteFile(*out, png, 0o644); err != nil {
		fmt.Fprintf(stderr, "imgform: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, *out)
	return 0
}
