package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	"github.com/openclaw/wa-orchestrator-go/internal/config"
	"github.com/openclaw/wa-orchestrator-go/internal/manager"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/store"
)

// stubClient is a minimal scripted platform handle for handler tests.
type stubClient struct {
	mu         sync.Mutex
	events     chan platform.Event
	closed     bool
	registered bool
}

func newStubClient() *stubClient {
	return &stubClient{events: make(chan platform.Event, 8)}
}

func (c *stubClient) Events() <-chan platform.Event { return c.events }

func (c *stubClient) RequestPairingCode(context.Context, string) (string, error) {
	return "WXYZ9876", nil
}

func (c *stubClient) SendPresence(context.Context) error { return nil }

func (c *stubClient) SendMessage(context.Context, string, string) error { return nil }

func (c *stubClient) ProfilePictureURL(context.Context, string) (string, error) {
	return "", nil
}

func (c *stubClient) FetchBlocklist(context.Context) ([]string, error) { return nil, nil }

func (c *stubClient) GroupMetadata(_ context.Context, jid string) (*platform.GroupInfo, error) {
	return &platform.GroupInfo{JID: jid}, nil
}

func (c *stubClient) Logout(context.Context) error { return nil }

func (c *stubClient) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *stubClient) User() platform.Contact { return platform.Contact{} }

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

type testEnv struct {
	m   *manager.Manager
	bus *bus.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		SessionsDir:         t.TempDir(),
		PairingDelayMs:      5,
		CodeTTLMs:           60000,
		CleanupGraceMs:      900000,
		ReconnectRetryMs:    3000,
		ReconnectDeadlineMs: 30000,
		BootstrapDelayMs:    5,
		KeepAliveIntervalMs: 60000,
	}

	st, err := store.NewFS(cfg.SessionsDir)
	require.NoError(t, err)

	b := bus.New(nil)
	t.Cleanup(b.Close)

	dial := func(context.Context, platform.DialOptions) (platform.Client, error) {
		return newStubClient(), nil
	}

	m := manager.New(cfg, st, b, dial)
	t.Cleanup(m.Close)

	return &testEnv{m: m, bus: b}
}
