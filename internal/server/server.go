package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TLSConfig holds optional HTTPS settings for the API server.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// Server wraps http.Server with hardened defaults and graceful shutdown.
type Server struct {
	httpServer *http.Server
	tlsConfig  *TLSConfig
}

// New creates a server with sane timeouts and optional TLS.
func New(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, tlsConfig *TLSConfig) *Server {
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if tlsConfig != nil && tlsConfig.Enabled {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.X25519,
				tls.CurveP256,
			},
		}
	}

	return &Server{httpServer: httpServer, tlsConfig: tlsConfig}
}

// ListenAndServe starts serving, with TLS when configured.
func (s *Server) ListenAndServe() error {
	if s.tlsConfig != nil && s.tlsConfig.Enabled {
		if s.tlsConfig.CertFile == "" || s.tlsConfig.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file missing")
		}
		log.Printf("[Server] Listening with TLS on %s", s.httpServer.Addr)
		return s.httpServer.ListenAndServeTLS(s.tlsConfig.CertFile, s.tlsConfig.KeyFile)
	}

	log.Printf("[Server] Listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
