// Package interceptors holds the gRPC unary interceptors shared by every registered service.
package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"social-notify/backend/internal/security"
	"social-notify/backend/internal/server/middleware"
)

// AuthUnary returns a unary server interceptor that validates the Bearer access token from gRPC
// metadata and stores its subject as the request identity. publicMethods is the set of full method
// names that do not require a token (e.g. the health service).
func AuthUnary(tokens *security.TokenCodec, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		identity, err := tokens.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(middleware.WithIdentity(ctx, identity), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return middleware.ExtractBearer(vals[0])
}
