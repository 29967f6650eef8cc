package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"social-notify/backend/internal/health"
)

// ServiceName is the service name answered besides the empty (overall) name.
const ServiceName = "social-notify"

// Server implements the standard gRPC health service on top of a readiness Checker.
type Server struct {
	healthpb.UnimplementedHealthServer
	checker *health.Checker
}

// NewServer returns a health server. A nil checker always reports SERVING.
func NewServer(checker *health.Checker) *Server {
	return &Server{checker: checker}
}

// Check returns SERVING when every readiness check passes and NOT_SERVING otherwise.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.checker == nil || s.checker.Check(ctx).OK() {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}
