package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/adamwoolhether/unihttp/client"
)

type batchFlags struct {
	concurrency int
	file        string
	deadline    time.Duration
	css         string
}

func newBatchCmd(g *globalFlags) *cobra.Command {
	var f batchFlags

	cmd := &cobra.Command{
		Use:   "batch [<url>...] [-f <file>] [-c <n>]",
		Short: "Fetches many URLs with bounded concurrency and prints a summary table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if f.file != "" {
				fromFile, err := readURLs(cmd.InOrStdin(), f.file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls: pass them as arguments or with --file")
			}
			return runBatch(cmd, g, &f, urls)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.concurrency, "concurrency", "c", 4, "Maximum requests in flight.")
	fl.StringVarP(&f.file, "file", "f", "", "Read URLs from a file, one per line. '-' reads stdin.")
	fl.DurationVar(&f.deadline, "deadline", 0, "Cut the whole batch short after this long.")
	fl.StringVar(&f.css, "css", "", "Add a column with the text of the first node matching this selector.")

	return cmd
}

func readURLs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening url file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading url file: %w", err)
	}

	return urls, nil
}

func runBatch(cmd *cobra.Command, g *globalFlags, f *batchFlags, urls []string) error {
	out := cmd.OutOrStdout()

	au, err := g.aurora(out)
	if err != nil {
		return err
	}
	opts, err := g.clientOptions(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if f.deadline > 0 {
		opts = append(opts, client.WithBatchDeadline(f.deadline))
	}

	ac, err := client.BuildAsync(f.concurrency, opts...)
	if err != nil {
		return err
	}
	defer ac.Close()

	start := time.Now()
	results, batchErr := ac.GetAll(cmd.Context(), urls)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	t.Style().Format.Footer = text.FormatDefault

	header := table.Row{"#", "URL", "Status", "Encoding", "Size", "Elapsed", "Attempts"}
	if f.css != "" {
		header = append(header, f.css)
	}
	header = append(header, "Error")
	t.AppendHeader(header)

	var failed int
	for i, r := range results {
		resp, rerr := r.Value, r.Err
		if rerr != nil {
			failed++
			if se := statusErr(rerr); se != nil {
				resp = se.Response
			}
		}

		row := table.Row{i, urls[i]}
		if resp != nil {
			row = append(row,
				colorStatus(au, resp.StatusCode, resp.Status),
				resp.Encoding(),
				bytefmt.ByteSize(uint64(len(resp.Body))),
				resp.Elapsed.Round(time.Millisecond),
				resp.Attempts,
			)
		} else {
			row = append(row, "-", "-", "-", "-", "-")
		}
		if f.css != "" {
			row = append(row, firstText(resp, f.css))
		}
		if rerr != nil {
			row = append(row, au.Colorize(rerr.Error(), aurora.RedFg))
		} else {
			row = append(row, "")
		}
		t.AppendRow(row)
	}

	st := ac.Stats()
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d urls, %d failed", len(urls), failed),
		fmt.Sprintf("peak %d/%d", st.Peak, ac.MaxConcurrent()), "", "", time.Since(start).Round(time.Millisecond)})
	t.Render()

	if batchErr != nil {
		return batchErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(urls))
	}
	return nil
}

func statusErr(err error) *client.StatusError {
	var se *client.StatusError
	if errors.As(err, &se) && se.Response != nil {
		return se
	}
	return nil
}

func firstText(resp *client.Response, css string) string {
	if resp == nil {
		return ""
	}
	nodes, err := resp.Find(css)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	return strings.TrimSpace(nodes[0].Text())
}
