package commands

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/unihttp/client"
	"github.com/adamwoolhether/unihttp/client/dom"
)

type getFlags struct {
	method  string
	data    string
	json    string
	css     string
	xpath   string
	attr    string
	include bool
	output  string
	sha256  string
}

func newGetCmd(g *globalFlags) *cobra.Command {
	var f getFlags

	cmd := &cobra.Command{
		Use:   "get <url> [--css <selector> | --xpath <expr>] [-o <file>]",
		Short: "Sends one request and prints the decoded body or the matched nodes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, g, &f, args[0])
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.method, "method", "X", "GET", "HTTP method.")
	fl.StringVarP(&f.data, "data", "d", "", "Raw request body.")
	fl.StringVar(&f.json, "json", "", "JSON request body; sets Content-Type.")
	fl.StringVar(&f.css, "css", "", "Print the text of nodes matching a CSS selector.")
	fl.StringVar(&f.xpath, "xpath", "", "Print the text of nodes matching an XPath expression.")
	fl.StringVar(&f.attr, "attr", "", "With --css or --xpath, print this attribute instead of the text.")
	fl.BoolVarP(&f.include, "include", "i", false, "Print the status line and response headers.")
	fl.StringVarP(&f.output, "output", "o", "", "Save the raw body to a file.")
	fl.StringVar(&f.sha256, "sha256", "", "With --output, verify the saved body against this hex digest.")
	cmd.MarkFlagsMutuallyExclusive("css", "xpath")
	cmd.MarkFlagsMutuallyExclusive("data", "json")

	return cmd
}

func runGet(cmd *cobra.Command, g *globalFlags, f *getFlags, url string) error {
	out := cmd.OutOrStdout()

	au, err := g.aurora(out)
	if err != nil {
		return err
	}
	opts, err := g.clientOptions(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	c, err := client.Build(opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	var reqOpts []client.RequestOption
	switch {
	case f.data != "":
		reqOpts = append(reqOpts, client.WithBody([]byte(f.data)))
	case f.json != "":
		reqOpts = append(reqOpts, client.WithBody([]byte(f.json)), client.WithContentType("application/json"))
	}

	resp, reqErr := c.Request(cmd.Context(), f.method, url, reqOpts...)
	if reqErr != nil {
		var se *client.StatusError
		if !errors.As(reqErr, &se) || se.Response == nil {
			return reqErr
		}
		resp = se.Response
	}

	if f.include {
		printHead(out, au, resp)
	}

	switch {
	case f.output != "":
		var saveOpts []client.SaveOption
		if f.sha256 != "" {
			saveOpts = append(saveOpts, client.WithChecksum(sha256.New(), f.sha256))
		}
		if err := resp.Save(cmd.Context(), f.output, saveOpts...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved %s to %s\n", bytefmt.ByteSize(uint64(len(resp.Body))), f.output)
	case f.css != "" || f.xpath != "":
		expr, kind := f.css, dom.CSS
		if f.xpath != "" {
			expr, kind = f.xpath, dom.XPath
		}
		nodes, err := resp.Select(expr, kind)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if f.attr == "" {
				fmt.Fprintln(out, strings.TrimSpace(n.Text()))
				continue
			}
			if v, ok := n.Attr(f.attr); ok {
				fmt.Fprintln(out, v)
			}
		}
	default:
		fmt.Fprint(out, resp.Text())
		if !strings.HasSuffix(resp.Text(), "\n") {
			fmt.Fprintln(out)
		}
	}

	return reqErr
}

func printHead(w io.Writer, au aurora.Aurora, resp *client.Response) {
	fmt.Fprintf(w, "%s %s\n", au.Colorize(resp.Proto, aurora.BlueFg), colorStatus(au, resp.StatusCode, resp.Status))

	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", au.Colorize(name, aurora.BrightFg|aurora.BlackFg), au.Colorize(v, aurora.CyanFg))
		}
	}
	fmt.Fprintf(w, "%s %s, %s, %d attempt(s)\n\n",
		au.Colorize("#", aurora.BrightFg|aurora.BlackFg), resp.Encoding(), resp.Elapsed.Round(time.Millisecond), resp.Attempts)
}
