package collector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/elus10n/profiler/proto/profilerpb"
)

// ServerConfig configures the gRPC listener that accepts StreamEvents
// connections from perfprobe instances.
type ServerConfig struct {
	Addr string

	// Insecure disables TLS (local development / tests only).
	Insecure bool

	// CertPath, KeyPath are this server's identity; CAPath verifies client
	// certificates for mTLS.
	CertPath string
	KeyPath  string
	CAPath   string
}

func (c ServerConfig) loadCredentials() (credentials.TransportCredentials, error) {
	if c.Insecure {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("collector: load server keypair: %w", err)
	}
	caCert, err := os.ReadFile(c.CAPath)
	if err != nil {
		return nil, fmt.Errorf("collector: read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("collector: no valid certificates found in %q", c.CAPath)
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Server wraps a grpc.Server bound to ServerConfig.Addr, serving an
// IngestService.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	grpc   *grpc.Server
}

// NewServer creates a Server registering svc as the Collector implementation.
func NewServer(cfg ServerConfig, svc profilerpb.CollectorServer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	creds, err := cfg.loadCredentials()
	if err != nil {
		return nil, err
	}

	gs := grpc.NewServer(grpc.Creds(creds))
	profilerpb.RegisterCollectorServer(gs, svc)

	return &Server{cfg: cfg, logger: logger, grpc: gs}, nil
}

// Serve listens on cfg.Addr and blocks until ctx is cancelled, at which
// point it calls GracefulStop. A nil return means ctx cancellation caused
// the shutdown; any other return is a listener or serve error.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("collector: listen on %s: %w", s.cfg.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("collector gRPC server listening", "addr", s.cfg.Addr)
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop forces an immediate shutdown, for use when graceful drain times out.
func (s *Server) Stop() {
	s.grpc.Stop()
}
