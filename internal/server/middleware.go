package server

import (
	"compress/gzip"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type statusWriter struct {
	rw   http.ResponseWriter
	code int
	n    int
}

func (s *statusWriter) Header() http.Header { return s.rw.Header() }
func (s *statusWriter) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.rw.WriteHeader(code)
}
func (s *statusWriter) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	n, err := s.rw.Write(b)
	s.n += n
	return n, err
}
func (s *statusWriter) Flush() {
	if f, ok := s.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// wrap applies security headers, CORS, preflight, request IDs, panic recovery, metrics
// and access logging to h.
func (s *Server) wrap(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		setSecurityHeaders(w, r)
		s.cors.apply(w, r)
		if s.altSvc != nil {
			s.altSvc(w.Header())
		}

		rid := r.Header.Get("X-Request-ID")
		if rid == "" || len(rid) > 128 {
			rid = genReqID()
		}
		w.Header().Set("X-Request-ID", rid)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			s.metrics.observe(name, http.StatusNoContent, time.Since(start))
			return
		}

		atomic.AddInt64(&s.metrics.inflight, 1)
		sw := &statusWriter{rw: w}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Slog().Error("panic in handler", "handler", name, "panic", fmt.Sprint(rec), "request_id", rid)
					if sw.code == 0 {
						sw.Header().Del("Content-Encoding")
						writeDetail(sw, http.StatusInternalServerError, "internal server error")
					}
				}
			}()
			h(sw, r)
		}()
		atomic.AddInt64(&s.metrics.inflight, -1)
		if sw.code == 0 {
			sw.code = http.StatusOK
		}

		d := time.Since(start)
		s.metrics.observe(name, sw.code, d)
		if s.accessLog {
			s.log.Slog().LogAttrs(r.Context(), slog.LevelInfo, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.RequestURI()),
				slog.Int("status", sw.code),
				slog.Int("bytes", sw.n),
				slog.Duration("duration", d),
				slog.String("remote", r.RemoteAddr),
				slog.String("proto", r.Proto),
				slog.String("request_id", rid),
			)
		}
	}
}

// genReqID returns a random 16-byte hex string.
func genReqID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// ---- CORS ----

type corsCfg struct {
	origins []string
	any     bool
}

// newCORS returns nil, disabling CORS headers, when origins is empty.
func newCORS(origins []string) *corsCfg {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return &corsCfg{any: true}
		}
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &corsCfg{origins: out}
}

func (c *corsCfg) allow(origin string) bool {
	if c == nil {
		return false
	}
	if c.any {
		return true
	}
	for _, o := range c.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (c *corsCfg) apply(w http.ResponseWriter, r *http.Request) {
	o := r.Header.Get("Origin")
	if o == "" || !c.allow(o) {
		return
	}
	if c.any {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", o)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,HEAD,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-Request-ID,If-None-Match")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID,ETag")
	w.Header().Set("Access-Control-Max-Age", "600")
}

// ---- gzip ----

// maybeGzip wraps the ResponseWriter with gzip writer when client accepts gzip.
func maybeGzip(w http.ResponseWriter, r *http.Request) http.ResponseWriter {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return w
	}
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	return &gzipResponseWriter{rw: w, gz: gzip.NewWriter(w)}
}

type gzipResponseWriter struct {
	rw http.ResponseWriter
	gz *gzip.Writer
	// set for statuses that carry no body; Close then writes nothing
	bodyless bool
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func (g *gzipResponseWriter) WriteHeader(statusCode int) {
	g.rw.Header().Del("Content-Length")
	if statusCode == http.StatusNotModified || statusCode == http.StatusNoContent {
		g.rw.Header().Del("Content-Encoding")
		g.bodyless = true
	}
	g.rw.WriteHeader(statusCode)
}

func (g *gzipResponseWriter) Flush() {
	_ = g.gz.Flush()
	if f, ok := g.rw.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipResponseWriter) Header() http.Header { return g.rw.Header() }

func (g *gzipResponseWriter) Close() error {
	if g.bodyless {
		return nil
	}
	return g.gz.Close()
}

func closeIfGzip(w http.ResponseWriter) {
	if g, ok := w.(*gzipResponseWriter); ok {
		_ = g.Close()
	}
}

// ---- responses ----

// writeJSONWithETag writes v with status 200, a weak content ETag and 304 on If-None-Match.
func writeJSONWithETag(w http.ResponseWriter, r *http.Request, v any) {
	defer closeIfGzip(w)
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(b)
	etag := fmt.Sprintf("W/\"%x\"", sum[:16])
	for _, t := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if strings.TrimSpace(t) == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Content-Type", "application/json")
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-cache")
	}
	_, _ = w.Write(b)
}

// writeJSON writes v with the given status and no caching.
func writeJSON(w http.ResponseWriter, status int, v any) {
	defer closeIfGzip(w)
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// errorBody is the failure document of every endpoint.
type errorBody struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
	Line   int    `json:"line,omitempty"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// setSecurityHeaders applies basic security headers per response.
func setSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	if r.TLS != nil {
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	}
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}
