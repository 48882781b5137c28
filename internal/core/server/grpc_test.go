package server

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/relaykit/internal/core/bootstrap"
	"github.com/solatis/relaykit/internal/core/config"
	"github.com/solatis/relaykit/internal/types"
)

func TestNewGRPCServerRequiresConfig(t *testing.T) {
	if _, err := NewGRPCServer(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestHealthReflectsRunState(t *testing.T) {
	cfg := config.DefaultRuntimeConfig()
	cfg.HealthHost = "127.0.0.1"
	cfg.HealthPort = 0

	srv, err := NewGRPCServer(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go srv.Start(context.Background())
	defer srv.Shutdown(context.Background())

	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	check := func(t *testing.T, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) failed: %v", service, err)
		}
		return resp.Status
	}

	if got := check(t, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before sync overall = %s", got)
	}

	srv.Sync(bootstrap.RunResult{
		States: map[types.Component]bootstrap.State{
			types.ComponentPush:     bootstrap.Failed,
			types.ComponentTracking: bootstrap.Running,
			types.ComponentRealtime: bootstrap.NotAttempted,
		},
		OverallRunning: true,
	})

	tests := []struct {
		service string
		want    grpc_health_v1.HealthCheckResponse_ServingStatus
	}{
		{"", grpc_health_v1.HealthCheckResponse_SERVING},
		{ServiceName(types.ComponentTracking), grpc_health_v1.HealthCheckResponse_SERVING},
		{ServiceName(types.ComponentPush), grpc_health_v1.HealthCheckResponse_NOT_SERVING},
		{ServiceName(types.ComponentRealtime), grpc_health_v1.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run("service "+tt.service, func(t *testing.T) {
			if got := check(t, tt.service); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServiceName(t *testing.T) {
	if got := ServiceName(types.ComponentRealtime); got != "relaykit.realtime" {
		t.Errorf("ServiceName = %s", got)
	}
}
