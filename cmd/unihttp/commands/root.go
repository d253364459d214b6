// Package commands implements the unihttp command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/unihttp/client"
)

type globalFlags struct {
	connect     time.Duration
	read        time.Duration
	attempts    int
	encoding    string
	headers     []string
	randomUA    bool
	noRedirects bool
	verbose     bool
	color       string
}

// NewRootCmd returns the unihttp command tree.
func NewRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "unihttp",
		Short:         "unihttp fetches URLs and prints decoded, queryable responses.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := client.DefaultConfig()
	pf := root.PersistentFlags()
	pf.DurationVar(&g.connect, "connect-timeout", defaults.Timeout.Connect, "Connect timeout.")
	pf.DurationVar(&g.read, "read-timeout", defaults.Timeout.Read, "Read timeout.")
	pf.IntVar(&g.attempts, "attempts", defaults.Retry.MaxAttempts, "Maximum attempts per request.")
	pf.StringVar(&g.encoding, "encoding", "", "Force a text encoding instead of detecting one.")
	pf.StringArrayVarP(&g.headers, "header", "H", nil, `Extra request header as "Name: value". Repeatable.`)
	pf.BoolVar(&g.randomUA, "random-ua", false, "Pick a random desktop User-Agent per request.")
	pf.BoolVar(&g.noRedirects, "no-redirects", false, "Do not follow redirects.")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Log retries and request details to stderr.")
	pf.StringVar(&g.color, "color", "auto", "Colorize output: auto, always or never.")

	root.AddCommand(newGetCmd(&g), newBatchCmd(&g))

	return root
}

// ExecuteContext runs the command tree and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) clientOptions(errOut io.Writer) ([]client.Option, error) {
	header := make(http.Header)
	for _, h := range g.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q: want \"Name: value\"", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	opts := []client.Option{
		client.WithTimeout(g.connect, g.read),
		client.WithMaxAttempts(g.attempts),
		client.WithLogger(g.logger(errOut)),
	}
	if len(header) > 0 {
		opts = append(opts, client.WithDefaultHeaders(header))
	}
	if g.encoding != "" {
		opts = append(opts, client.WithEncoding(g.encoding))
	}
	if g.randomUA {
		opts = append(opts, client.WithRandomUserAgent(nil))
	}
	if g.noRedirects {
		opts = append(opts, client.WithNoFollowRedirects())
	}

	return opts, nil
}

func (g *globalFlags) aurora(w io.Writer) (aurora.Aurora, error) {
	switch g.color {
	case "always":
		return aurora.NewAurora(true), nil
	case "never":
		return aurora.NewAurora(false), nil
	case "auto":
		f, ok := w.(*os.File)
		return aurora.NewAurora(ok && isatty.IsTerminal(f.Fd())), nil
	default:
		return nil, fmt.Errorf("color %q: want auto, always or never", g.color)
	}
}

func colorStatus(au aurora.Aurora, code int, status string) aurora.Value {
	switch {
	case code >= 500:
		return au.Colorize(status, aurora.RedFg|aurora.BoldFm)
	case code >= 400:
		return au.Colorize(status, aurora.BrownFg|aurora.BoldFm)
	case code >= 300:
		return au.Colorize(status, aurora.CyanFg)
	default:
		return au.Colorize(status, aurora.GreenFg)
	}
}
