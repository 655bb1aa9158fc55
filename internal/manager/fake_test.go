package manager

import (
	"context"
	"sync"

	"github.com/openclaw/wa-orchestrator-go/internal/platform"
)

// fakePlatform hands out scripted connection handles.
type fakePlatform struct {
	mu       sync.Mutex
	clients  []*fakeClient
	dialErr  error
	pairCode string
	pairErr  error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{pairCode: "ABCD1234"}
}

func (p *fakePlatform) Dial(_ context.Context, opts platform.DialOptions) (platform.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	c := &fakeClient{
		platform: p,
		dir:      opts.SessionDir,
		events:   make(chan platform.Event, 32),
	}
	p.clients = append(p.clients, c)
	return c, nil
}

func (p *fakePlatform) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *fakePlatform) client(i int) *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[i]
}

func (p *fakePlatform) lastClient() *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[len(p.clients)-1]
}

type sentMessage struct {
	to   string
	text string
}

type fakeClient struct {
	platform *fakePlatform
	dir      string

	mu         sync.Mutex
	events     chan platform.Event
	closed     bool
	registered bool
	user       platform.Contact
	presence   int
	sent       []sentMessage
	blocklist  []string
	groups     map[string]string
}

func (c *fakeClient) Events() <-chan platform.Event {
	return c.events
}

// push injects a platform event, updating the registration flag first so
// handlers observe consistent state.
func (c *fakeClient) push(ev platform.Event) {
	c.mu.Lock()
	switch e := ev.(type) {
	case platform.CredsUpdate:
		c.registered = e.Registered
	case platform.ConnectionUpdate:
		if e.Registered {
			c.registered = true
		}
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.events <- ev
	}
}

func (c *fakeClient) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}

func (c *fakeClient) setUser(u platform.Contact) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeClient) presenceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

func (c *fakeClient) RequestPairingCode(_ context.Context, _ string) (string, error) {
	c.platform.mu.Lock()
	code, err := c.platform.pairCode, c.platform.pairErr
	c.platform.mu.Unlock()
	if err != nil {
		return "", err
	}
	return code, nil
}

func (c *fakeClient) SendPresence(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence++
	return nil
}

func (c *fakeClient) SendMessage(_ context.Context, toJID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{to: toJID, text: text})
	return nil
}

func (c *fakeClient) ProfilePictureURL(_ context.Context, _ string) (string, error) {
	return "https://example.com/pic.jpg", nil
}

func (c *fakeClient) FetchBlocklist(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.blocklist...), nil
}

func (c *fakeClient) GroupMetadata(_ context.Context, jid string) (*platform.GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.groups[jid]; ok {
		return &platform.GroupInfo{JID: jid, Subject: name}, nil
	}
	return &platform.GroupInfo{JID: jid}, nil
}

func (c *fakeClient) Logout(_ context.Context) error {
	return nil
}

func (c *fakeClient) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *fakeClient) User() platform.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}
