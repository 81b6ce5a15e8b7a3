package nbi

import (
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer builds a gRPC server exposing SimulationService plus the
// standard health service. The returned health server reports SERVING for
// the simulation service until the caller changes it.
func NewGRPCServer(s Simulation, log logging.Logger, collector *observability.APICollector) (*grpc.Server, *health.Server) {
	if log == nil {
		log = logging.Noop()
	}
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log, s.RunID()),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	RegisterSimulationServiceServer(server, NewSimulationService(s, log))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server, hs
}
