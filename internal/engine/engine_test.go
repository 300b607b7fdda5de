package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumbridge/chatbridge/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.DataDir = t.TempDir()
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestCreateEngine(t *testing.T) {
	e, err := CreateEngine(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, e.Shutdown(ctx))
}

func TestCreateEngineBadDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.DataDir = "/dev/null/not-a-dir"

	_, err := CreateEngine(cfg)
	assert.Error(t, err)
}

func TestEngineStartStop(t *testing.T) {
	e, err := CreateEngine(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	assert.NoError(t, e.Shutdown(shutdownCtx))
}
