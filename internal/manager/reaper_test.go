package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
)

func TestReaperResetsStaleSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	last := time.Now().Add(-2 * h.cfg.CleanupGrace()).UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	h.m.armCleanup(testID)

	require.Eventually(t, func() bool {
		status, _ := h.m.GetStatus(testID)
		return status == model.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.store.HasDir(testID))
}

func TestReaperReschedulesFreshSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	h.m.armCleanup(testID)

	// Refresh lastCodeAt midway through the window: the first fire then
	// sees a fresh signup and must rearm instead of reaping.
	time.Sleep(h.cfg.CleanupGrace() / 2)
	last := time.Now().UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	time.Sleep(h.cfg.CleanupGrace()/2 + 100*time.Millisecond)

	status, err := h.m.GetStatus(testID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusOffline, status, "fresh session must survive the first sweep")

	h.m.mu.Lock()
	rearmed := h.m.sessions[testID].timers.cleanup != nil
	h.m.mu.Unlock()
	assert.True(t, rearmed, "cleanup timer must be rearmed")
}

func TestReaperSparesRegisteredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	writeCreds(t, h, testID, true)
	last := time.Now().Add(-2 * h.cfg.CleanupGrace()).UnixMilli()
	require.NoError(t, h.store.MergeMeta(testID, model.MetaPatch{LastCodeAt: &last}))

	h.m.armCleanup(testID)

	time.Sleep(h.cfg.CleanupGrace() + 50*time.Millisecond)

	status, err := h.m.GetStatus(testID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusOffline, status, "registered session must never be reaped")
	assert.True(t, h.store.HasDir(testID))
}

func TestTeardownCancelsPendingTimers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.m.RequestCode(ctx, testID, testID)
	require.Equal(t, "code", res.Status)

	// Reset while code and cleanup timers are armed; no callback may
	// resurrect or mutate state afterwards.
	_, err := h.m.Reset(testID)
	require.NoError(t, err)

	time.Sleep(h.cfg.CodeTTL() + 700*time.Millisecond)

	status, err := h.m.GetStatus(testID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, status)
	assert.False(t, h.store.HasDir(testID))
}
