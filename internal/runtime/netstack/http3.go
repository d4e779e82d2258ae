// Package netstack serves the runtime's diagnostic endpoints over QUIC.
package netstack

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// Server serves an http.Handler over HTTP/3 on one UDP socket.
type Server struct {
	h3   *http3.Server
	conn net.PacketConn
}

// Listen binds addr and prepares h to be served with tlsCfg. Port 0 picks
// a free port; see Addr.
func Listen(addr string, tlsCfg *tls.Config, h http.Handler) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		h3:   &http3.Server{TLSConfig: http3.ConfigureTLSConfig(tlsCfg), Handler: h},
		conn: conn,
	}, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() string { return s.conn.LocalAddr().String() }

// Serve handles requests until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.h3.Serve(s.conn) }()

	select {
	case err := <-errc:
		_ = s.conn.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	err := s.Close()
	select {
	case <-errc:
	case <-time.After(time.Second):
	}
	return err
}

// Close stops the server and releases the socket.
func (s *Server) Close() error {
	err := s.h3.Close()
	if cerr := s.conn.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// NewClient returns an HTTP/3 client and a function releasing its
// connections.
func NewClient(tlsCfg *tls.Config, timeout time.Duration) (*http.Client, func()) {
	tr := &http3.Transport{TLSClientConfig: tlsCfg}
	return &http.Client{Transport: tr, Timeout: timeout}, func() { _ = tr.Close() }
}
