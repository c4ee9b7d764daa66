package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"DropTracker/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Logging: config.LoggingConfig{Level: "info"},
		HTTP:    config.HTTPConfig{Address: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Storage: config.StorageConfig{Engine: config.EngineMemory},
		Collections: []config.CollectionConfig{
			{Name: "new-posts", Workflow: "extraction", UniqueSourceURL: true},
			{Name: "new-p-posts", Workflow: "moderation"},
		},
		Assets: config.AssetsConfig{Provider: config.ProviderNone},
		Queue:  config.QueueConfig{Engine: config.EngineMemory},
	}
}

func TestNewWithMemoryAdapters(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/assets?file=a.jpg", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNewWithRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Queue = config.QueueConfig{Engine: config.EngineRedis, Address: mr.Addr(), Stream: "test:extract"}

	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.Queue = config.QueueConfig{Engine: config.EngineRedis, Address: "127.0.0.1:1"}

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewRejectsBadCollections(t *testing.T) {
	cfg := memoryConfig()
	cfg.Collections = []config.CollectionConfig{{Name: "x", Table: "x; drop", Workflow: "moderation"}}

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestAssetSignerSelection(t *testing.T) {
	a := &Application{cfg: memoryConfig(), logger: zap.NewNop()}
	assert.Nil(t, a.assetAuthorizer(nil))

	a.cfg.Assets = config.AssetsConfig{
		Provider: config.ProviderS3,
		S3:       config.S3Config{Region: "us-east-1", Bucket: "drops", AccessKeyID: "AKID", SecretAccessKey: "s"},
	}
	signer := a.assetAuthorizer(nil)
	require.NotNil(t, signer)

	signed, err := signer.SignedURL(context.Background(), "thumbs/a.jpg", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, signed.URL, "thumbs/a.jpg")
	assert.Equal(t, time.Minute, signed.TTL)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
