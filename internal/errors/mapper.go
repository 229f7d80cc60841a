// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/store"
)

// Map converts repo/infra errors into gRPC-friendly status errors.
// Keeps service layer clean by centralizing error mapping.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, store.ErrContention):
		// retries already exhausted; the client should try again
		return status.Error(codes.Aborted, "concurrent update, try again")

	case errors.Is(err, favorites.ErrInvalidTitle), errors.Is(err, store.ErrUnsupported):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		// fallback → bubble up error message for debugging
		return status.Error(codes.Internal, err.Error())
	}
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this in service layer for bad input validation.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

// AlreadyExists creates a gRPC AlreadyExists error.
func AlreadyExists(msg string) error {
	return status.Error(codes.AlreadyExists, msg)
}
