package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	"github.com/openclaw/wa-orchestrator-go/internal/config"
	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/store"
)

const testID = "50588887777"

func testConfig(dir string) *config.Config {
	return &config.Config{
		SessionsDir:         dir,
		PairingDelayMs:      10,
		CodeTTLMs:           40,
		CleanupGraceMs:      1000,
		ReconnectRetryMs:    30,
		ReconnectDeadlineMs: 200,
		BootstrapDelayMs:    5,
		KeepAliveIntervalMs: 40,
		EventRetentionDays:  7,
	}
}

type harness struct {
	m        *Manager
	store    store.Store
	bus      *bus.Bus
	platform *fakePlatform
	cfg      *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig(t.TempDir())
	st, err := store.NewFS(cfg.SessionsDir)
	require.NoError(t, err)

	b := bus.New(nil)
	t.Cleanup(b.Close)

	p := newFakePlatform()
	m := New(cfg, st, b, p.Dial)
	t.Cleanup(m.Close)

	return &harness{m: m, store: st, bus: b, platform: p, cfg: cfg}
}

func writeCreds(t *testing.T, h *harness, id string, registered bool) {
	t.Helper()
	require.NoError(t, h.store.EnsureDir(id))
	data, err := json.Marshal(map[string]bool{"registered": registered})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Root(), id, "creds.json"), data, 0o600))
}

func TestStartSessionIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	require.NoError(t, h.m.StartSession(ctx, testID))

	assert.Equal(t, 1, h.platform.dialCount(), "second start must reuse the live handle")
	assert.True(t, h.store.HasDir(testID))
}

func TestStartSessionRejectsBadID(t *testing.T) {
	h := newHarness(t)

	err := h.m.StartSession(context.Background(), "123")
	require.Error(t, err)
	assert.Equal(t, 0, h.platform.dialCount())
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("offline when no record", func(t *testing.T) {
		status, err := h.m.GetStatus(testID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOffline, status)
	})

	t.Run("init after start", func(t *testing.T) {
		require.NoError(t, h.m.StartSession(ctx, testID))
		status, err := h.m.GetStatus(testID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInit, status)
	})

	t.Run("open when registered and connected", func(t *testing.T) {
		c := h.platform.client(0)
		c.setRegistered(true)
		c.push(platform.ConnectionUpdate{State: platform.StateOpen})

		require.Eventually(t, func() bool {
			status, _ := h.m.GetStatus(testID)
			return status == model.StatusOpen
		}, time.Second, 5*time.Millisecond)
	})
}

func TestResetTearsDownEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	c := h.platform.client(0)

	res, err := h.m.Reset(testID)
	require.NoError(t, err)
	assert.True(t, res.OK)

	status, err := h.m.GetStatus(testID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, status)
	assert.True(t, c.isClosed(), "handle must be closed on reset")
	assert.False(t, h.store.HasDir(testID), "directory must be wiped on reset")
}

func TestDeleteByNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("not found without directory", func(t *testing.T) {
		res := h.m.DeleteByNumber(testID)
		assert.False(t, res.OK)
		assert.Equal(t, "session not found", res.Message)
	})

	t.Run("removes record and directory", func(t *testing.T) {
		require.NoError(t, h.m.StartSession(ctx, testID))
		res := h.m.DeleteByNumber(testID)
		assert.True(t, res.OK)
		assert.Contains(t, res.Message, testID)
		assert.False(t, h.store.HasDir(testID))

		status, err := h.m.GetStatus(testID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOffline, status)
	})

	t.Run("rejects malformed number", func(t *testing.T) {
		res := h.m.DeleteByNumber("xyz")
		assert.False(t, res.OK)
	})
}

func TestActiveBots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const other = "4915112345678"
	require.NoError(t, h.m.StartSession(ctx, testID))
	require.NoError(t, h.m.StartSession(ctx, other))

	// Only the first session becomes registered and open.
	c := h.platform.client(0)
	c.setRegistered(true)
	c.setUser(platform.Contact{JID: platform.UserJID(testID), Name: "Alice"})
	c.push(platform.ConnectionUpdate{State: platform.StateOpen})

	require.Eventually(t, func() bool {
		return h.m.ActiveBots().Total == 1
	}, time.Second, 5*time.Millisecond)

	bots := h.m.ActiveBots()
	require.Len(t, bots.Bots, 1)
	assert.Equal(t, testID, bots.Bots[0].ID)
	assert.Equal(t, "Alice", bots.Bots[0].Name)
	assert.GreaterOrEqual(t, bots.Bots[0].Uptime, time.Duration(0))
}

func TestRegistrationClearsPairingState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.m.RequestCode(ctx, testID, testID)
	require.Equal(t, "code", res.Status)

	c := h.platform.lastClient()
	c.push(platform.CredsUpdate{Registered: true})

	require.Eventually(t, func() bool {
		meta := h.store.ReadMeta(testID)
		return meta.RegisteredAt > 0 && meta.UnusedCodes == 0
	}, time.Second, 5*time.Millisecond)

	h.m.mu.Lock()
	s := h.m.sessions[testID]
	code := s.code
	inPairing := s.inPairing
	h.m.mu.Unlock()
	assert.Empty(t, code, "pairing code must be cleared on registration")
	assert.False(t, inPairing)
}

func TestWelcomeMessageSentOnce(t *testing.T) {
	h := newHarness(t)
	h.cfg.WelcomeMessage = "Your bot is online."
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	c := h.platform.client(0)
	c.setRegistered(true)
	c.push(platform.CredsUpdate{Registered: true})
	c.push(platform.ConnectionUpdate{State: platform.StateOpen})

	require.Eventually(t, func() bool {
		return len(c.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)

	sent := c.sentMessages()[0]
	assert.Equal(t, platform.UserJID(testID), sent.to)
	assert.Equal(t, "Your bot is online.", sent.text)
	assert.True(t, h.store.ReadMeta(testID).NotifiedOnline)

	// A later open must not trigger a second send.
	c.push(platform.ConnectionUpdate{State: platform.StateClose, Reason: platform.ReasonConnectionLost, Registered: true})
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, c.sentMessages(), 1)
}

func TestKeepAliveSendsPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.StartSession(ctx, testID))
	c := h.platform.client(0)
	c.setRegistered(true)
	c.push(platform.ConnectionUpdate{State: platform.StateOpen})

	require.Eventually(t, func() bool {
		return c.presenceCount() >= 2
	}, time.Second, 5*time.Millisecond)
}
