//go:build integration

package e2e_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/adamwoolhether/unihttp"
	"github.com/adamwoolhether/unihttp/client"
	"github.com/adamwoolhether/unihttp/client/retry"
)

// -------------------------------------------------------------------------
// Types
// -------------------------------------------------------------------------

type user struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

type itemResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type queryResp struct {
	Search string `json:"search"`
	Page   string `json:"page"`
}

const downloadContent = "hello, this is test download content!"

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

type testApp struct {
	URL   string
	flaky atomic.Int32
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	app := &testApp{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /echo", echoHandler)
	mux.HandleFunc("GET /items/{id}/{name}", itemHandler)
	mux.HandleFunc("GET /query", queryHandler)
	mux.HandleFunc("GET /error/not-found", notFoundHandler)
	mux.HandleFunc("GET /download", downloadHandler)
	mux.HandleFunc("GET /gbk", gbkHandler)
	mux.HandleFunc("POST /login", loginHandler)
	mux.HandleFunc("GET /me", meHandler)
	mux.HandleFunc("GET /slow/{n}", slowHandler)
	mux.HandleFunc("GET /flaky", app.flakyHandler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	app.URL = srv.URL
	return app
}

func newClient(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()

	c, err := client.Build(opts...)
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func echoHandler(w http.ResponseWriter, r *http.Request) {
	var u user
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

func itemHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, itemResp{ID: r.PathValue("id"), Name: r.PathValue("name")})
}

func queryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	respondJSON(w, http.StatusOK, queryResp{Search: q.Get("search"), Page: q.Get("page")})
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNotFound, map[string]any{"code": 404, "message": "widget not found"})
}

func downloadHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(downloadContent)))
	_, _ = io.WriteString(w, downloadContent)
}

func gbkHandler(w http.ResponseWriter, _ *http.Request) {
	page := `<html><head><meta charset="gbk"><title>新闻</title></head><body><ul>` +
		`<li class="headline"><a href="/n/1">今日要闻</a></li>` +
		`<li class="headline"><a href="/n/2">天气预报</a></li>` +
		`</ul></body></html>`

	encoded, err := simplifiedchinese.GBK.NewEncoder().String(page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Only the markup declares the charset.
	w.Header().Set("Content-Type", "text/html")
	_, _ = io.WriteString(w, encoded)
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s-" + r.FormValue("user"), Path: "/"})
	w.WriteHeader(http.StatusNoContent)
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("sid")
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"session": c.Value})
}

func slowHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(20 * time.Millisecond)
	_, _ = io.WriteString(w, r.PathValue("n"))
}

func (a *testApp) flakyHandler(w http.ResponseWriter, _ *http.Request) {
	if a.flaky.Add(1) < 3 {
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, "recovered")
}

// -------------------------------------------------------------------------
// Tests
// -------------------------------------------------------------------------

func TestE2E_JSONRoundTrip(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	sent := user{Name: "Alice", Email: "alice@test.com", Age: 30}

	resp, err := c.Post(context.Background(), app.URL+"/echo", client.WithJSON(sent))
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got user
	if err := resp.JSON(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got != sent {
		t.Errorf("round-trip mismatch:\n  got:  %+v\n  want: %+v", got, sent)
	}
}

func TestE2E_PathParams(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	resp, err := c.Get(context.Background(), app.URL+"/items/42/widget")
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}

	var got itemResp
	if err := resp.JSON(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(itemResp{ID: "42", Name: "widget"}, got); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestE2E_QueryParams(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	resp, err := c.Get(context.Background(), app.URL+"/query",
		client.WithParams(url.Values{"search": {"gopher"}, "page": {"3"}}),
	)
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}

	var got queryResp
	if err := resp.JSON(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(queryResp{Search: "gopher", Page: "3"}, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestE2E_ErrorHandling(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	_, err := c.Get(context.Background(), app.URL+"/error/not-found")

	var statusErr *client.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := statusErr.Response.JSON(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Code != 404 || body.Message != "widget not found" {
		t.Errorf("unexpected error body: %+v", body)
	}
	if statusErr.Response.Attempts != 1 {
		t.Errorf("404 is not retryable, got %d attempts", statusErr.Response.Attempts)
	}
}

func TestE2E_RetryThenRecover(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t, client.WithBackoff(retry.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}))

	resp, err := c.Get(context.Background(), app.URL+"/flaky")
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}
	if resp.Text() != "recovered" || resp.Attempts != 3 {
		t.Errorf("exp recovery on attempt 3, got %q after %d", resp.Text(), resp.Attempts)
	}
}

func TestE2E_MarkupDeclaredCharset(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	resp, err := c.Get(context.Background(), app.URL+"/gbk")
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}

	nodes, err := resp.XPath("//li[@class='headline']/a")
	if err != nil {
		t.Fatalf("xpath: %v", err)
	}
	var got []string
	for _, n := range nodes {
		got = append(got, n.Text())
	}
	if diff := cmp.Diff([]string{"今日要闻", "天气预报"}, got); diff != "" {
		t.Errorf("headlines mismatch (-want +got):\n%s (encoding %s)", diff, resp.Encoding())
	}
}

func TestE2E_SessionAcrossSyncAndAsync(t *testing.T) {
	app := newTestApp(t)

	ac, err := unihttp.NewAsyncClient(2)
	if err != nil {
		t.Fatalf("building async client: %v", err)
	}
	defer ac.Close()

	_, err = ac.Post(context.Background(), app.URL+"/login", client.WithForm(url.Values{"user": {"ann"}})).Wait()
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	results, err := ac.GetAll(context.Background(), []string{app.URL + "/me", app.URL + "/me"})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: %v", r.Index, r.Err)
		}
		var me struct{ Session string }
		if err := r.Value.JSON(&me); err != nil || me.Session != "s-ann" {
			t.Errorf("item %d: exp session s-ann, got %q (%v)", r.Index, me.Session, err)
		}
	}
}

func TestE2E_BatchOrderAndBound(t *testing.T) {
	app := newTestApp(t)

	var urls, exp []string
	for i := range 10 {
		urls = append(urls, fmt.Sprintf("%s/slow/%d", app.URL, i))
		exp = append(exp, strconv.Itoa(i))
	}

	ac, err := unihttp.NewAsyncClient(3)
	if err != nil {
		t.Fatalf("building async client: %v", err)
	}
	defer ac.Close()

	results, err := ac.GetAll(context.Background(), urls)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}

	got := make([]string, len(results))
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: %v", i, r.Err)
		}
		got[i] = r.Value.Text()
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if peak := ac.Stats().Peak; peak > 3 {
		t.Errorf("peak %d exceeds bound 3", peak)
	}
}

func TestE2E_FileDownload(t *testing.T) {
	app := newTestApp(t)
	c := newClient(t)

	destPath := filepath.Join(t.TempDir(), "downloaded.bin")

	resp, err := c.Get(context.Background(), app.URL+"/download")
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}

	sum := sha256.Sum256([]byte(downloadContent))
	if err := resp.Save(context.Background(), destPath, client.WithChecksum(sha256.New(), hex.EncodeToString(sum[:]))); err != nil {
		t.Fatalf("saving: %v", err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != downloadContent {
		t.Errorf("file content = %q, want %q", string(got), downloadContent)
	}
}

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}
