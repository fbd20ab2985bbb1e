// Package grpcserver exposes pipeline health over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/reverser/internal/pipeline"
	"github.com/GriffinCanCode/reverser/internal/resilience"
	"github.com/GriffinCanCode/reverser/internal/trace"
)

// StateSource is the pipeline view the health service follows.
type StateSource interface {
	State() pipeline.State
	Subscribe(buffer int) (<-chan pipeline.Event, func())
}

// Server serves the standard health protocol for the recognition pipeline.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	source StateSource
}

// New builds the gRPC server. Nothing is served until Serve.
func New(source StateSource) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             MinClientPingInterval,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, source: source}
	s.apply(source.State())
	return s
}

// Serving maps a pipeline state onto a health status. An open engine
// breaker counts as down whatever the phase.
func Serving(st pipeline.State) healthpb.HealthCheckResponse_ServingStatus {
	if st.Engine == resilience.Open {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	switch st.Phase {
	case pipeline.PhaseIdle, pipeline.PhaseRecognizing:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

func (s *Server) apply(st pipeline.State) {
	s.set(Serving(st))
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Serve accepts on lis until ctx is done. A terminal pipeline event pins the
// status at NOT_SERVING.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	events, cancel := s.source.Subscribe(0)
	defer cancel()

	go s.follow(ctx, events)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("grpc server starting", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func (s *Server) follow(ctx context.Context, events <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case pipeline.EventStateChanged:
				s.apply(e.State)
			case pipeline.EventTerminal:
				slog.Warn("pipeline terminal, reporting not serving", "error", e.Err)
				s.set(healthpb.HealthCheckResponse_NOT_SERVING)
				return
			}
		}
	}
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
