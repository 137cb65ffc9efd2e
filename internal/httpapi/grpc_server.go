package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ecocredit.org/internal/obs"
)

// HealthServer publishes readiness through the standard grpc.health.v1 service.
// The overall status ("") and serviceName follow the probe.
type HealthServer struct {
	*health.Server
	probe ReadyProbe
}

func NewHealthServer(probe ReadyProbe) *HealthServer {
	if probe == nil {
		probe = ReadyFunc(nil)
	}
	return &HealthServer{Server: health.NewServer(), probe: probe}
}

// Register attaches the health service to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.Server)
}

// Refresh runs the probe once and records the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.probe.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().WarnContext(ctx, "readiness probe failed", "error", err.Error())
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(serviceName, status)
	return status
}

// Watch refreshes the status every interval until ctx ends, then marks the
// service as shutting down.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
