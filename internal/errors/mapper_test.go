package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/store"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("user u1: %w", store.ErrNotFound), codes.NotFound},
		{"contention", store.ErrContention, codes.Aborted},
		{"invalid title", fmt.Errorf("%w: book/1", favorites.ErrInvalidTitle), codes.InvalidArgument},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"status passthrough", status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{"other", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(Map(tt.err)))
		})
	}
	assert.NoError(t, Map(nil))
}
