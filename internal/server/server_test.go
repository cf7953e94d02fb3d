package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/minipy-lang/minipy/internal/ast"
	"github.com/minipy-lang/minipy/internal/transpiler"
	"github.com/minipy-lang/minipy/internal/transpiler/mocks"
)

func newTestServer(t *testing.T, c transpiler.Compiler, opts Options) *httptest.Server {
	t.Helper()
	s, err := New(c, opts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postCompile(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/compile", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestCompileSuccess(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{})

	resp := postCompile(t, ts.URL, CompileRequest{Code: "x = 1\nx = 2\nprint(x)"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	res := decode[transpiler.Result](t, resp.Body)
	if res.JS != "let x = 1;\nx = 2;\nconsole.log(x);" {
		t.Errorf("unexpected js %q", res.JS)
	}
	if res.Output == "" || res.AST == "" || len(res.Tokens) == 0 {
		t.Errorf("incomplete result: %+v", res)
	}
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing middleware headers: %v", resp.Header)
	}
}

func TestCompileFailureDetail(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{})

	source := "x = 1\nif x > 1\n    print(x)"
	resp := postCompile(t, ts.URL, CompileRequest{Code: source})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp.Body)
	expected := "Error in line 3:\n\n    print(x)\n    ^\n\nexpected COLON, got INDENT at line 3"
	if body.Detail != expected {
		t.Errorf("expected detail:\n%q\ngot:\n%q", expected, body.Detail)
	}
	if body.Kind != "syntax" || body.Line != 3 {
		t.Errorf("unexpected kind/line: %+v", body)
	}
}

func TestCompileWithMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	compiler := mocks.NewMockCompiler(ctrl)
	compiler.EXPECT().
		Compile(gomock.Any(), "print(1)").
		Return(&transpiler.Result{Output: "print(1)", Tokens: []string{}, AST: "Block\n", JS: "console.log(1);"}, nil).
		Times(1)
	compiler.EXPECT().
		Compile(gomock.Any(), "boom").
		Return(nil, &ast.GenerateDefectError{Node: "X", Reason: "missing"}).
		Times(1)

	ts := newTestServer(t, compiler, Options{})

	resp := postCompile(t, ts.URL, CompileRequest{Code: "print(1)"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if res := decode[transpiler.Result](t, resp.Body); res.JS != "console.log(1);" {
		t.Errorf("unexpected js %q", res.JS)
	}

	resp = postCompile(t, ts.URL, CompileRequest{Code: "boom"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decode[errorBody](t, resp.Body); body.Kind != "internal" || !strings.HasPrefix(body.Detail, "Error:\n") {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRequiresConstraint(t *testing.T) {
	ctrl := gomock.NewController(t)
	compiler := mocks.NewMockCompiler(ctrl)
	compiler.EXPECT().Compile(gomock.Any(), gomock.Any()).Return(&transpiler.Result{}, nil).Times(1)

	ts := newTestServer(t, compiler, Options{LanguageVersion: "1.2.0"})

	tests := []struct {
		requires string
		status   int
	}{
		{">= 1.0, < 2.0", http.StatusOK},
		{"^2.0", http.StatusUnprocessableEntity},
		{"not a constraint!", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.requires, func(t *testing.T) {
			resp := postCompile(t, ts.URL, CompileRequest{Code: "x = 1", Requires: tt.requires})
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	compiler := mocks.NewMockCompiler(ctrl) // never called

	ts := newTestServer(t, compiler, Options{MaxBodyBytes: 64})

	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", resp.StatusCode)
	}

	big := CompileRequest{Code: strings.Repeat("x = 1\n", 100)}
	resp = postCompile(t, ts.URL, big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: expected 413, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/compile")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /compile: expected 405, got %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{RateQPS: 0.001, RateBurst: 1})

	if resp := postCompile(t, ts.URL, CompileRequest{Code: "x = 1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", resp.StatusCode)
	}
	resp := postCompile(t, ts.URL, CompileRequest{Code: "x = 1"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	metrics, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metrics.Body.Close()
	text, _ := io.ReadAll(metrics.Body)
	if !strings.Contains(string(text), "minipy_ratelimit_dropped_total 1") {
		t.Errorf("drop not counted:\n%s", text)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{CORSOrigins: []string{"*"}})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/compile", nil)
	req.Header.Set("Origin", "https://editor.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing allow-origin: %v", resp.Header)
	}

	restricted := newTestServer(t, transpiler.New(nil), Options{CORSOrigins: []string{"https://ok.example"}})
	req, _ = http.NewRequest(http.MethodGet, restricted.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin must not be echoed")
	}
}

func TestGzipAndETag(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %v", resp.Header)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	doc := decode[map[string]any](t, zr)
	if doc["language_version"] == "" || doc["endpoints"] == nil {
		t.Errorf("unexpected root document %v", doc)
	}

	etag := resp.Header.Get("ETag")
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Errorf("expected 304 for matching ETag, got %d", resp2.StatusCode)
	}
}

func TestGzipWriterSkipsBodylessStatuses(t *testing.T) {
	for _, code := range []int{http.StatusNotModified, http.StatusNoContent} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")

		w := maybeGzip(rec, req)
		w.WriteHeader(code)
		closeIfGzip(w)

		if rec.Code != code {
			t.Errorf("status %d: recorded %d", code, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("status %d: expected no body, got %d bytes", code, rec.Body.Len())
		}
		if enc := rec.Header().Get("Content-Encoding"); enc != "" {
			t.Errorf("status %d: unexpected Content-Encoding %q", code, enc)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := maybeGzip(rec, req)
	_, _ = w.Write([]byte("{}"))
	closeIfGzip(w)
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("200 response should still be gzip: %v", err)
	}
	if b, _ := io.ReadAll(zr); string(b) != "{}" {
		t.Errorf("unexpected body %q", b)
	}
}

func TestUnknownPathAndHealth(t *testing.T) {
	ts := newTestServer(t, transpiler.New(nil), Options{})

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if body := decode[map[string]bool](t, resp.Body); !body["ok"] {
		t.Errorf("unexpected health body %v", body)
	}
}

// blockingCompiler holds every compilation until release is closed.
type blockingCompiler struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (b *blockingCompiler) Compile(ctx context.Context, source string) (*transpiler.Result, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
	}
	<-b.release
	return &transpiler.Result{JS: "ok"}, nil
}

func TestIdenticalRequestsCoalesce(t *testing.T) {
	bc := &blockingCompiler{started: make(chan struct{}), release: make(chan struct{})}
	s, err := New(bc, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	const n = 4
	var wg sync.WaitGroup
	results := make([]*transpiler.Result, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.compile(context.Background(), "same")
	}()
	<-bc.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.compile(context.Background(), "same")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(bc.release)
	wg.Wait()

	if bc.calls != 1 {
		t.Errorf("expected a single compilation, got %d", bc.calls)
	}
	for i, r := range results {
		if r == nil || r.JS != "ok" {
			t.Errorf("result %d: %+v", i, r)
		}
	}
}

func TestPanicRecovery(t *testing.T) {
	ctrl := gomock.NewController(t)
	compiler := mocks.NewMockCompiler(ctrl)
	compiler.EXPECT().Compile(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, source string) (*transpiler.Result, error) {
			panic("unexpected")
		})

	ts := newTestServer(t, compiler, Options{})
	resp := postCompile(t, ts.URL, CompileRequest{Code: "x = 1"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestServeGracefulShutdown(t *testing.T) {
	s, err := New(transpiler.New(nil), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln, "", "") }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + ln.Addr().String() + "/healthz"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("shutdown returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestTokenBucket(t *testing.T) {
	if newTokenBucket(0, 5) != nil {
		t.Error("zero rate should disable limiting")
	}
	var disabled *tokenBucket
	if !disabled.Allow() {
		t.Error("nil bucket must admit")
	}

	now := time.Unix(0, 0)
	tb := newTokenBucket(2, 2)
	tb.now = func() time.Time { return now }
	tb.last = now

	if !tb.Allow() || !tb.Allow() {
		t.Fatal("burst of 2 should be admitted")
	}
	if tb.Allow() {
		t.Fatal("third request should be rejected")
	}
	now = now.Add(500 * time.Millisecond)
	if !tb.Allow() {
		t.Error("one token should refill after half a second at 2 qps")
	}
	if tb.retryAfter() < 1 {
		t.Error("retryAfter must be at least one second")
	}
}
