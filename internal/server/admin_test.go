package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cinematch/internal/quota"
	"github.com/oggyb/cinematch/internal/server"
)

func TestAdminRouter(t *testing.T) {
	status := func(_ context.Context, userID string) (quota.Status, error) {
		if userID == "broken" {
			return quota.Status{}, errors.New("store down")
		}
		return quota.Status{Tier: quota.TierFree, RemainingChanges: 1, RemainingMatches: 0, CooldownRemaining: 90 * time.Second}, nil
	}
	healthy := true
	h := server.AdminRouter(status, map[string]server.Pinger{
		"store": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("unreachable")
		},
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("live", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/healthz/live").Code)
	})

	t.Run("ready follows pingers", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/healthz/ready").Code)
		healthy = false
		rec := get("/healthz/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unreachable")
		healthy = true
	})

	t.Run("metrics", func(t *testing.T) {
		rec := get("/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("quota lookup", func(t *testing.T) {
		rec := get("/admin/quota/u1")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "free", body["tier"])
		assert.EqualValues(t, 90, body["cooldown_remaining_seconds"])

		assert.Equal(t, http.StatusInternalServerError, get("/admin/quota/broken").Code)
	})
}
