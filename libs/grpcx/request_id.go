package grpcx

import "github.com/google/uuid"

// RequestIDMetadataKey is the canonical key used for request id propagation over gRPC metadata.
// Lowercase is recommended by gRPC metadata conventions.
const RequestIDMetadataKey = "x-request-id"

func NewRequestID() string {
	return uuid.NewString()
}
