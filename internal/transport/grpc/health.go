package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service name next to the overall "".
const ServiceName = "slotwise.TimeSlots"

// Pinger is satisfied by *bun.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthMonitor drives the standard gRPC health service from periodic
// database pings.
type HealthMonitor struct {
	srv      *health.Server
	db       Pinger
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration
	serving  bool
}

func NewHealthMonitor(db Pinger, log *slog.Logger, interval time.Duration) *HealthMonitor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &HealthMonitor{
		srv:      health.NewServer(),
		db:       db,
		log:      log.With(slog.String("component", "grpc.health")),
		interval: interval,
		timeout:  2 * time.Second,
	}
	m.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Server is what gets registered with healthpb.RegisterHealthServer.
func (m *HealthMonitor) Server() *health.Server {
	return m.srv
}

// Run checks once immediately and then every interval until ctx ends, at
// which point every service reports NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the database once and updates the reported status.
func (m *HealthMonitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.db.PingContext(pingCtx)
	cancel()

	if err != nil {
		if m.serving {
			m.log.Warn("database ping failed, reporting not serving", slog.Any("err", err))
		}
		m.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	if !m.serving {
		m.log.Info("database reachable, reporting serving")
	}
	m.set(healthpb.HealthCheckResponse_SERVING)
}

func (m *HealthMonitor) set(status healthpb.HealthCheckResponse_ServingStatus) {
	m.serving = status == healthpb.HealthCheckResponse_SERVING
	m.srv.SetServingStatus("", status)
	m.srv.SetServingStatus(ServiceName, status)
}
