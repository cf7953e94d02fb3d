package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/netstack"
	"github.com/minipy-lang/minipy/internal/server"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

var serveInfo = cli.CommandInfo{
	Name:        "serve",
	Usage:       "minipy serve [OPTIONS]",
	Description: "Serve the compiler over HTTP",
	Flags: []cli.FlagInfo{
		{Name: "addr", Usage: "listen address", Default: ":8000"},
		{Name: "http3", Usage: "also serve HTTP/3 on the same UDP port"},
		{Name: "tls-cert", Usage: "TLS certificate (PEM)"},
		{Name: "tls-key", Usage: "TLS private key (PEM)"},
		{Name: "cors", Usage: "comma-separated allowed origins", Default: "*"},
		{Name: "rate", Usage: "compile requests per second; 0 disables limiting"},
		{Name: "burst", Usage: "rate limiter burst"},
		{Name: "max-body", Usage: "request body limit in bytes", Default: "1048576"},
		{Name: "log-format", Usage: "text or json", Default: "text"},
		{Name: "save-config", Usage: "write the effective configuration to this file and exit"},
		{Name: "write-cert", Usage: "write a self-signed certificate and key into this directory and exit"},
	},
	Examples: []string{
		"minipy serve --addr :8080",
		"minipy serve --http3 --tls-cert cert.pem --tls-key key.pem",
		"MINIPY_RATE_QPS=5 minipy serve --config minipy.json",
		"minipy serve --write-cert tls && minipy serve --http3 --tls-cert tls/cert.pem --tls-key tls/key.pem",
	},
}

func runServe(e *env, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	var (
		addr       = fs.String("addr", "", "listen address")
		http3      = fs.Bool("http3", false, "also serve HTTP/3 on the same UDP port")
		tlsCert    = fs.String("tls-cert", "", "TLS certificate (PEM)")
		tlsKey     = fs.String("tls-key", "", "TLS private key (PEM)")
		cors       = fs.String("cors", "", "comma-separated allowed origins")
		rate       = fs.Float64("rate", 0, "compile requests per second")
		burst      = fs.Int("burst", 0, "rate limiter burst")
		maxBody    = fs.Int64("max-body", 0, "request body limit in bytes")
		logFormat  = fs.String("log-format", "", "text or json")
		saveConfig = fs.String("save-config", "", "write the effective configuration to this file and exit")
		writeCert  = fs.String("write-cert", "", "write a self-signed certificate and key into this directory and exit")
	)
	if code := parseFlags(fs, e, args); code >= 0 {
		return code
	}
	if err := cli.ValidateArgs(fs.Args(), 0, 0, serveInfo.Usage); err != nil {
		return cli.HandleError(e.stderr, err)
	}

	if *writeCert != "" {
		certPath, keyPath, err := writeDevCert(*writeCert)
		if err != nil {
			return cli.HandleError(e.stderr, err)
		}
		fmt.Fprintf(e.stdout, "certificate written to %s, key to %s\n", certPath, keyPath)
		return exitOK
	}

	cfg, err := common.load()
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	// explicitly set flags win over file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "http3":
			cfg.HTTP3 = *http3
		case "tls-cert":
			cfg.TLSCert = *tlsCert
		case "tls-key":
			cfg.TLSKey = *tlsKey
		case "cors":
			cfg.CORSOrigins = strings.Split(*cors, ",")
		case "rate":
			cfg.RateQPS = *rate
		case "burst":
			cfg.RateBurst = *burst
		case "max-body":
			cfg.MaxBodyBytes = *maxBody
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return cli.HandleError(e.stderr, &cli.UsageError{Message: "--tls-cert and --tls-key must be given together"})
	}

	if *saveConfig != "" {
		if err := cfg.SaveConfig(*saveConfig); err != nil {
			return cli.HandleError(e.stderr, err)
		}
		fmt.Fprintf(e.stdout, "configuration written to %s\n", *saveConfig)
		return exitOK
	}

	log := cfg.Logger()
	srv, err := server.New(transpiler.New(log), server.OptionsFromConfig(cfg), log)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP3 {
		h3, err := srv.HTTP3(cfg.Addr, cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return cli.HandleError(e.stderr, err)
		}
		g.Go(func() error {
			log.Info("serving HTTP/3 on udp %s", cfg.Addr)
			return h3.ListenAndServe(gctx)
		})
	}
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Addr, cfg.TLSCert, cfg.TLSKey)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped: %v", err)
		return exitFailure
	}
	log.Info("server stopped")
	return exitOK
}

// writeDevCert stores a self-signed pair for localhost in dir, as cert.pem and key.pem.
func writeDevCert(dir string) (certPath, keyPath string, err error) {
	cfg, err := netstack.GenerateSelfSignedTLS(nil, devCertValidity)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	certPath, keyPath = filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	if err := netstack.WritePEM(&cfg.Certificates[0], certPath, keyPath); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

const devCertValidity = 30 * 24 * time.Hour
