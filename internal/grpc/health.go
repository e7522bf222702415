// Package grpc exposes the portal's health over the standard grpc.health.v1
// service so orchestrators can probe the store behind it.
package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "gat.bonafide.v1.Portal"

type Health struct {
	server *health.Server
}

func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.SetHealthy(true)
	return h
}

// SetHealthy flips both the overall ("") and the portal service status.
func (h *Health) SetHealthy(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}

// NewServer builds the gRPC server carrying the health service. A non-empty
// serviceToken makes every call present it in the x-service-token header.
func NewServer(h *Health, serviceToken string) *grpc.Server {
	var opts []grpc.ServerOption
	if serviceToken != "" {
		opts = append(opts,
			grpc.UnaryInterceptor(NewServiceAuthUnaryInterceptor(serviceToken)),
			grpc.StreamInterceptor(NewServiceAuthStreamInterceptor(serviceToken)),
		)
	}
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)
	return srv
}
