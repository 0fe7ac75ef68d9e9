package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/commitstreak/streakd/internal/config"
	"github.com/commitstreak/streakd/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			TickInterval:  time.Minute,
			MaxConcurrent: 4,
		},
		Store: config.StoreConfig{Backend: "memory"},
	}
}

func TestNewRuntimeMemoryBackend(t *testing.T) {
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(&fakeGitHubClient{}))
	require.NoError(t, err)
	defer runtime.Stop()

	require.NotNil(t, runtime.Store())

	status := runtime.CurrentStatus(context.Background())
	assert.False(t, status.Ready, "scheduler has not started yet")
	assert.Equal(t, health.ModeUnhealthy, status.Mode)
}

func TestRuntimeStartStop(t *testing.T) {
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(&fakeGitHubClient{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runtime.Start(ctx)

	status := runtime.CurrentStatus(ctx)
	assert.True(t, status.Ready)
	assert.Equal(t, health.ModeDegraded, status.Mode, "no notification channel is configured")

	runtime.Stop()
	status = runtime.CurrentStatus(ctx)
	assert.False(t, status.Ready)
}

type failingPingStore struct {
	runtimeStore
}

func (s *failingPingStore) Ping(context.Context) error {
	return errors.New("store unreachable")
}

func TestRuntimeStorePingFailureDropsReadiness(t *testing.T) {
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(&fakeGitHubClient{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runtime.Start(ctx)
	defer runtime.Stop()

	require.True(t, runtime.CurrentStatus(ctx).Ready)

	runtime.store = &failingPingStore{runtimeStore: runtime.store}
	status := runtime.CurrentStatus(ctx)
	assert.False(t, status.Ready, "an unreachable store must fail readiness")
	assert.False(t, status.Components["store"])
}

func TestRuntimeGitHubFailureStreak(t *testing.T) {
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(&fakeGitHubClient{}))
	require.NoError(t, err)
	defer runtime.Stop()

	for i := 0; i < githubFailureThreshold-1; i++ {
		runtime.observeGitHub(false)
	}
	assert.True(t, runtime.CurrentStatus(context.Background()).Components["github"],
		"below the threshold github stays healthy")

	runtime.observeGitHub(false)
	assert.False(t, runtime.CurrentStatus(context.Background()).Components["github"])

	runtime.observeGitHub(true)
	assert.True(t, runtime.CurrentStatus(context.Background()).Components["github"],
		"one success restores github health")
}

func TestRuntimeTrackedClientReportsHealth(t *testing.T) {
	client := &fakeGitHubClient{}
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(client))
	require.NoError(t, err)
	defer runtime.Stop()

	tracked, err := runtime.clients("ghp_x")
	require.NoError(t, err)

	for i := 0; i < githubFailureThreshold; i++ {
		_, listErr := tracked.ListRepos(context.Background())
		require.NoError(t, listErr)
	}
	assert.True(t, runtime.CurrentStatus(context.Background()).Components["github"])
}

func TestNewRuntimeEmailConfigError(t *testing.T) {
	cfg := memoryConfig()
	cfg.Email.Enabled = true

	_, err := NewRuntime(cfg, fakeFactory(&fakeGitHubClient{}))
	require.Error(t, err)
}

func TestNewRuntimePushConfigError(t *testing.T) {
	cfg := memoryConfig()
	cfg.Push.Enabled = true

	_, err := NewRuntime(cfg, fakeFactory(&fakeGitHubClient{}))
	require.Error(t, err)
}

func TestRuntimeHandlerRoutes(t *testing.T) {
	runtime, err := NewRuntime(memoryConfig(), fakeFactory(&fakeGitHubClient{}))
	require.NoError(t, err)
	defer runtime.Stop()

	handler := runtime.Handler()

	tests := []struct {
		path     string
		wantCode int
	}{
		{path: "/livez", wantCode: http.StatusOK},
		{path: "/readyz", wantCode: http.StatusServiceUnavailable},
		{path: "/healthz", wantCode: http.StatusOK},
		{path: "/metrics", wantCode: http.StatusOK},
		{path: "/api/v1/users/ghost", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
