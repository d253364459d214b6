package commands_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/unihttp/cmd/unihttp/commands"
)

const page = `<html><head><title>Shop</title></head><body>` +
	`<a class="p" href="/p/1">Pen</a><a class="p" href="/p/2">Ink</a></body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	})
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(r.Header.Get("X-Token") + " "))
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("GET /gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone for good", http.StatusGone)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := commands.NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(t.Context())
	return out.String(), errOut.String(), err
}

func TestGet(t *testing.T) {
	srv := newServer(t)

	tests := map[string]struct {
		args []string
		exp  string
	}{
		"body":       {args: []string{"get", srv.URL + "/page"}, exp: page + "\n"},
		"css":        {args: []string{"get", srv.URL + "/page", "--css", "a.p"}, exp: "Pen\nInk\n"},
		"xpath attr": {args: []string{"get", srv.URL + "/page", "--xpath", "//a", "--attr", "href"}, exp: "/p/1\n/p/2\n"},
		"post json": {
			args: []string{"get", "-X", "post", srv.URL + "/echo", "--json", `{"a":1}`, "-H", "X-Token: t1"},
			exp:  `t1 {"a":1}` + "\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out, _, err := run(t, tc.args...)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(tc.exp, out); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGet_Include(t *testing.T) {
	srv := newServer(t)

	out, _, err := run(t, "get", "-i", "--color", "never", srv.URL+"/page", "--css", "title")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, want := range []string{"HTTP/1.1 200 OK\n", "Content-Type: text/html; charset=utf-8\n", "# utf-8", "1 attempt(s)", "\nShop\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGet_StatusErrorStillPrints(t *testing.T) {
	srv := newServer(t)

	out, _, err := run(t, "get", srv.URL+"/gone")
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Errorf("exp 410 error, got: %v", err)
	}
	if !strings.Contains(out, "gone for good") {
		t.Errorf("exp error body printed, got %q", out)
	}
}

func TestGet_Output(t *testing.T) {
	srv := newServer(t)
	dest := filepath.Join(t.TempDir(), "page.html")
	sum := sha256.Sum256([]byte(page))

	_, errOut, err := run(t, "get", srv.URL+"/page", "-o", dest, "--sha256", hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(errOut, "saved ") {
		t.Errorf("exp save notice, got %q", errOut)
	}

	got, err := os.ReadFile(dest)
	if err != nil || string(got) != page {
		t.Errorf("saved file mismatch: %q, %v", got, err)
	}

	_, _, err = run(t, "get", srv.URL+"/page", "-o", filepath.Join(t.TempDir(), "bad.html"), "--sha256", "00")
	if err == nil {
		t.Error("exp checksum error")
	}
}

func TestGet_BadFlags(t *testing.T) {
	tests := map[string][]string{
		"header":    {"get", "http://127.0.0.1:1/", "-H", "no-colon"},
		"color":     {"get", "http://127.0.0.1:1/", "--color", "rainbow"},
		"attempts":  {"get", "http://127.0.0.1:1/", "--attempts", "0"},
		"exclusive": {"get", "http://127.0.0.1:1/", "--css", "a", "--xpath", "//a"},
		"no args":   {"get"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := run(t, args...); err == nil {
				t.Error("exp error")
			}
		})
	}
}

func TestBatch(t *testing.T) {
	srv := newServer(t)

	urlFile := filepath.Join(t.TempDir(), "urls.txt")
	content := "# catalogue\n" + srv.URL + "/page\n\n" + srv.URL + "/gone\n"
	if err := os.WriteFile(urlFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "batch", "-c", "2", "--color", "never", "--css", "title", srv.URL+"/page", "-f", urlFile)
	if err == nil || !strings.Contains(err.Error(), "1 of 3 requests failed") {
		t.Errorf("exp one failure, got: %v", err)
	}
	for _, want := range []string{"200 OK", "410 Gone", "Shop", "3 urls, 1 failed", "peak"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestBatch_NoURLs(t *testing.T) {
	if _, _, err := run(t, "batch"); err == nil {
		t.Error("exp error without urls")
	}
}
