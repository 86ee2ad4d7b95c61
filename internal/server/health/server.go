// Package health exposes the standard gRPC health service so supervisors can
// probe the file server. The status flips to NOT_SERVING once shutdown
// starts.
package health

import (
	"context"
	"net"

	"github.com/dmitrijs2005/fileshare/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name probes can ask about in addition to "".
const ServiceName = "fileshare"

type Server struct {
	address string
	logger  logging.Logger
	status  *health.Server
}

func New(address string, l logging.Logger) *Server {
	s := &Server{
		address: address,
		logger:  l.With("module", "health"),
		status:  health.NewServer(),
	}
	s.SetServing(false)
	return s
}

// SetServing updates the status reported for both the overall server and
// ServiceName.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.status.SetServingStatus("", st)
	s.status.SetServingStatus(ServiceName, st)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.status)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping health server...")
		// wakes up Watch streams so GracefulStop does not wait on them
		s.status.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting health server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
