package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
)

func TestBootstrapAllStartsRegisteredDir(t *testing.T) {
	h := newHarness(t)
	writeCreds(t, h, testID, true)

	ids, err := h.m.BootstrapAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testID}, ids)
	assert.Equal(t, 1, h.platform.dialCount())
	status, err := h.m.GetStatus(testID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusOffline, status)
}

func TestBootstrapAllResetsStaleUnregisteredDir(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.EnsureDir(testID))
	last := time.Now().Add(-2 * h.cfg.CleanupGrace()).UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	ids, err := h.m.BootstrapAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testID}, ids)
	assert.Equal(t, 0, h.platform.dialCount(), "stale signup must be reset, not started")
	assert.False(t, h.store.HasDir(testID))
}

func TestBootstrapAllStartsFreshUnregisteredDir(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.EnsureDir(testID))
	last := time.Now().UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	_, err := h.m.BootstrapAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.platform.dialCount())
	h.m.mu.Lock()
	s, ok := h.m.sessions[testID]
	armed := ok && s.timers.cleanup != nil
	h.m.mu.Unlock()
	assert.True(t, armed, "unregistered session must have the abandonment timer armed")
}

func TestBootstrapAllIgnoresNonSessionDirs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.EnsureDir(testID))
	require.NoError(t, os.MkdirAll(filepath.Join(h.store.Root(), "tmp-backup"), 0o700))

	ids, err := h.m.BootstrapAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testID}, ids)
}

func TestBootstrapAllHonorsContext(t *testing.T) {
	h := newHarness(t)
	writeCreds(t, h, testID, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.m.BootstrapAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.platform.dialCount())
}

func TestBootstrapOneNotFound(t *testing.T) {
	h := newHarness(t)

	res := h.m.BootstrapOne(context.Background(), testID)
	assert.False(t, res.Started)
	assert.Equal(t, "not_found", res.Status)
}

func TestBootstrapOneRejectsBadID(t *testing.T) {
	h := newHarness(t)

	res := h.m.BootstrapOne(context.Background(), "abc")
	assert.False(t, res.Started)
	assert.Equal(t, "error", res.Status)
}

func TestBootstrapOneSkipsLiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.m.StartSession(ctx, testID))

	res := h.m.BootstrapOne(ctx, testID)
	assert.False(t, res.Started)
	assert.Equal(t, "init", res.Status)
	assert.Equal(t, 1, h.platform.dialCount())
}

func TestBootstrapOneStartsRegisteredDir(t *testing.T) {
	h := newHarness(t)
	writeCreds(t, h, testID, true)

	res := h.m.BootstrapOne(context.Background(), testID)
	assert.True(t, res.Started)
	assert.Equal(t, "open", res.Status)
}

func TestBootstrapOneStartsPendingDir(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.EnsureDir(testID))
	last := time.Now().UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	res := h.m.BootstrapOne(context.Background(), testID)
	assert.True(t, res.Started)
	assert.Equal(t, "pending", res.Status)
}
