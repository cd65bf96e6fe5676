// Package grpcserver 通过标准 gRPC 健康检查协议报告数据库连接状态
// file: internal/transport/grpc/health.go
package grpcserver

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DatabaseService 是健康检查中代表数据库连接的服务名
const DatabaseService = "querymind.Database"

// HealthServer 持有 gRPC 服务器和健康状态
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
}

// NewHealthServer 创建健康检查服务。进程本身 ("") 总是 SERVING，数据库初始为 NOT_SERVING。
func NewHealthServer() *HealthServer {
	h := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(DatabaseService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetDatabaseStatus 可直接作为 connection.StatusFunc 使用
func (h *HealthServer) SetDatabaseStatus(connected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(DatabaseService, status)
	slog.Info("数据库健康状态已更新", "service", DatabaseService, "status", status.String())
}

// Serve 在 lis 上提供服务，直到 Stop 被调用
func (h *HealthServer) Serve(lis net.Listener) error {
	slog.Info("gRPC 健康检查服务已启动", "address", lis.Addr().String())
	return h.srv.Serve(lis)
}

// ListenAndServe 监听 addr 并提供服务
func (h *HealthServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 gRPC 健康检查地址 %s 失败: %w", addr, err)
	}
	return h.Serve(lis)
}

// Stop 把所有服务标记为 NOT_SERVING 并优雅停止
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
