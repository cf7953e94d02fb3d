package netstack

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server wraps the http3.Server lifecycle on a UDP socket.
type HTTP3Server struct {
	srv  *http3.Server
	pc   net.PacketConn
	addr string
	done chan error
}

// NewHTTP3Server creates a server bound to addr with given TLS config and handler.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	return &HTTP3Server{
		srv:  &http3.Server{Addr: addr, TLSConfig: http3.ConfigureTLSConfig(tlsCfg), Handler: h},
		addr: addr,
	}
}

// Start binds the UDP socket and serves in the background. It returns the bound address,
// which differs from the requested one when the port is 0.
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.pc = pc
	s.done = make(chan error, 1)
	go func() { s.done <- s.srv.Serve(pc) }()
	return pc.LocalAddr().String(), nil
}

// Stop closes the server and waits briefly for the serve loop to exit.
func (s *HTTP3Server) Stop() error {
	if s.pc == nil {
		return nil
	}
	err := s.srv.Close()
	_ = s.pc.Close()
	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return err
}

// ListenAndServe serves until ctx is done. A serve failure is returned as is.
func (s *HTTP3Server) ListenAndServe(ctx context.Context) error {
	if _, err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-s.done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// AltSvcHeader advertises the HTTP/3 endpoint to HTTP/1.1 and HTTP/2 clients.
func (s *HTTP3Server) AltSvcHeader(h http.Header) error {
	return s.srv.SetQUICHeaders(h)
}

// HTTP3Client returns an http.Client using HTTP/3 round tripper with given TLS config.
func HTTP3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	tr := &http3.Transport{TLSClientConfig: tlsCfg}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// ShutdownHTTP3 closes the client's QUIC transport, if it has one.
func ShutdownHTTP3(c *http.Client) {
	if tr, ok := c.Transport.(*http3.Transport); ok {
		_ = tr.Close()
	}
}
