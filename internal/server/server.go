// Package server exposes the compiler over HTTP.
//
// Endpoints:
//
//	POST /compile   {"code": "...", "requires": "^1.0"} -> {"output","tokens","ast","js"}
//	GET  /          service description
//	GET  /healthz   liveness
//	GET  /metrics   Prometheus text format
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"

	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/diagnostics"
	"github.com/minipy-lang/minipy/internal/netstack"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

// CompileRequest is the body of POST /compile.
type CompileRequest struct {
	Code     string `json:"code"`
	Requires string `json:"requires,omitempty"`
}

// Options configures a Server.
type Options struct {
	CORSOrigins  []string
	RateQPS      float64
	RateBurst    int
	MaxBodyBytes int64
	AccessLog    bool
	// LanguageVersion is checked against a request's "requires" constraint.
	LanguageVersion string
}

// OptionsFromConfig maps the shared CLI configuration onto server options.
func OptionsFromConfig(c *cli.Config) Options {
	return Options{
		CORSOrigins:     c.CORSOrigins,
		RateQPS:         c.RateQPS,
		RateBurst:       c.RateBurst,
		MaxBodyBytes:    c.MaxBodyBytes,
		AccessLog:       true,
		LanguageVersion: cli.LanguageVersion,
	}
}

// Server is the HTTP front end of a transpiler.Compiler.
type Server struct {
	compiler  transpiler.Compiler
	log       *cli.Logger
	lang      *semver.Version
	maxBody   int64
	accessLog bool

	cors    *corsCfg
	limiter *tokenBucket
	metrics *metricsRecorder
	group   singleflight.Group
	altSvc  func(http.Header)
}

// New creates a server around c.
func New(c transpiler.Compiler, opts Options, log *cli.Logger) (*Server, error) {
	if opts.LanguageVersion == "" {
		opts.LanguageVersion = cli.LanguageVersion
	}
	lang, err := semver.NewVersion(opts.LanguageVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid language version %q: %w", opts.LanguageVersion, err)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if log == nil {
		log = cli.Discard()
	}
	return &Server{
		compiler:  c,
		log:       log,
		lang:      lang,
		maxBody:   opts.MaxBodyBytes,
		accessLog: opts.AccessLog,
		cors:      newCORS(opts.CORSOrigins),
		limiter:   newTokenBucket(opts.RateQPS, opts.RateBurst),
		metrics:   newMetricsRecorder("root", "compile", "healthz", "metrics"),
	}, nil
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.wrap("root", s.handleRoot))
	mux.HandleFunc("/compile", s.wrap("compile", s.handleCompile))
	mux.HandleFunc("/healthz", s.wrap("healthz", s.handleHealth))
	mux.HandleFunc("/metrics", s.wrap("metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.metrics.serveMetrics(w, r)
	}))
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w = maybeGzip(w, r)
	writeJSONWithETag(w, r, map[string]any{
		"message":          "Welcome to the minipy compiler API",
		"version":          cli.Version,
		"language_version": s.lang.String(),
		"endpoints": map[string]string{
			"/compile": "POST - Compile minipy source to JavaScript",
			"/healthz": "GET - Liveness probe",
			"/metrics": "GET - Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow() {
		atomic.AddUint64(&s.metrics.rlDrops, 1)
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.retryAfter()))
		writeDetail(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if status, detail := s.checkRequires(req.Requires); status != 0 {
		writeDetail(w, status, detail)
		return
	}

	w = maybeGzip(w, r)
	res, err := s.compile(r.Context(), req.Code)
	if err != nil {
		atomic.AddUint64(&s.metrics.failed, 1)
		d := diagnostics.Describe(err, req.Code)
		if d.Kind == diagnostics.CategoryInternal {
			s.log.Error("compile failed: %v", err)
		} else {
			s.log.Debug("compile rejected: %s", d.Message)
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: d.Detail, Kind: string(d.Kind), Line: d.Line})
		return
	}
	atomic.AddUint64(&s.metrics.compiled, 1)
	w.Header().Set("Cache-Control", "no-store")
	writeJSONWithETag(w, r, res)
}

// checkRequires validates a "requires" constraint against the language version.
// It returns a zero status when the request may proceed.
func (s *Server) checkRequires(requires string) (int, string) {
	if requires == "" {
		return 0, ""
	}
	c, err := semver.NewConstraint(requires)
	if err != nil {
		return http.StatusBadRequest, fmt.Sprintf("invalid requires constraint %q: %v", requires, err)
	}
	if ok, errs := c.Validate(s.lang); !ok {
		detail := fmt.Sprintf("language version %s does not satisfy %q", s.lang, requires)
		if len(errs) > 0 {
			detail += ": " + errs[0].Error()
		}
		return http.StatusUnprocessableEntity, detail
	}
	return 0, ""
}

// compile coalesces concurrent requests for identical source into one compilation.
// The shared compilation is detached from any single caller's cancellation.
func (s *Server) compile(ctx context.Context, code string) (*transpiler.Result, error) {
	sum := sha256.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.compiler.Compile(context.WithoutCancel(ctx), code)
	})
	if shared {
		atomic.AddUint64(&s.metrics.coalesced, 1)
	}
	if err != nil {
		return nil, err
	}
	return v.(*transpiler.Result), nil
}

func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    16 << 10,
	}
}

// ListenAndServe serves HTTP/1.1 on addr and shuts down gracefully when ctx is done.
// TLS is used when certFile and keyFile are both set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, certFile, keyFile)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	hs := s.httpServer(ln.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			errCh <- hs.ServeTLS(ln, certFile, keyFile)
			return
		}
		errCh <- hs.Serve(ln)
	}()
	s.log.Info("listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// HTTP3 prepares an HTTP/3 server on the UDP address addr for the same routes and makes
// responses advertise it through Alt-Svc. Call it before serving anything. Without certFile
// and keyFile a self-signed certificate is generated.
func (s *Server) HTTP3(addr, certFile, keyFile string) (*netstack.HTTP3Server, error) {
	tlsCfg, selfSigned, err := netstack.ServerTLS(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	if selfSigned {
		s.log.Warn("using a self-signed certificate for HTTP/3")
	}
	h3 := netstack.NewHTTP3Server(addr, tlsCfg, s.Handler())
	s.altSvc = func(h http.Header) { _ = h3.AltSvcHeader(h) }
	return h3, nil
}
