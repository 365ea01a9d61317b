// Package transport runs the store service over gRPC
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/grpc/service"
)

var (
	ErrServerStarted    = errors.New("server already started")
	ErrServerNotStarted = errors.New("server not started")
)

// ServerOptions configures a Server
type ServerOptions struct {
	Address        string
	MaxMessageSize int
	TLS            *TLSConfig // nil serves plaintext
	Logger         log.Logger
}

// DefaultServerOptions returns options for a plaintext server on localhost
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:        "localhost:50051",
		MaxMessageSize: 1 << 20,
	}
}

// Server serves one StoreService
type Server struct {
	options  ServerOptions
	impl     service.StoreService
	logger   log.Logger
	server   *grpc.Server
	listener net.Listener
	mu       sync.Mutex
	started  bool
}

// NewServer creates a server for impl
func NewServer(impl service.StoreService, options ServerOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = log.GetDefaultLogger().WithField("component", "rpc")
	}
	return &Server{options: options, impl: impl, logger: logger}
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.options.TLS != nil {
		tlsConfig, err := LoadServerTLSConfig(s.options.TLS.CertFile, s.options.TLS.KeyFile, s.options.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	if s.options.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(s.options.MaxMessageSize),
			grpc.MaxSendMsgSize(s.options.MaxMessageSize),
		)
	}

	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle:     60 * time.Second,
		MaxConnectionAge:      5 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  15 * time.Second,
		Timeout:               5 * time.Second,
	}

	keepalivePolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts = append(opts,
		grpc.KeepaliveParams(keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepalivePolicy),
	)
	return opts, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.options.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Address, err)
	}
	if err := s.start(lis); err != nil {
		lis.Close()
		return err
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve serves on lis and blocks until the server is stopped
func (s *Server) Serve(lis net.Listener) error {
	if err := s.start(lis); err != nil {
		return err
	}
	return s.server.Serve(lis)
}

func (s *Server) start(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerStarted
	}

	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	s.server = grpc.NewServer(opts...)
	service.RegisterStoreService(s.server, s.impl)
	s.listener = lis
	s.started = true

	s.logger.Info("serving store on %s", lis.Addr())
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrServerNotStarted
	}
	return s.listener.Addr(), nil
}

// Stop stops the server gracefully, forcing it down once ctx is done
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.started = false
	return nil
}
