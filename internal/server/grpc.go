package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-notify/backend/internal/health"
	healthhandler "social-notify/backend/internal/health/handler"
	"social-notify/backend/internal/security"
	"social-notify/backend/internal/server/interceptors"
)

// publicMethods do not require a Bearer token.
var publicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewGRPCServer returns a gRPC server exposing the standard health service backed by checker.
// Every RPC is traced through otelgrpc and logged; non-public methods require a Bearer token.
func NewGRPCServer(checker *health.Checker, tokens *security.TokenCodec, logger *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, publicMethods),
			interceptors.AuthUnary(tokens, publicMethods),
		),
	)
	RegisterServices(s, checker)
	return s
}

// RegisterServices registers every gRPC service with s.
func RegisterServices(s grpc.ServiceRegistrar, checker *health.Checker) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(checker))
}
