// Package platform wraps the external chat-platform client library behind a
// narrow surface. The wire protocol, handshake and encryption all live on the
// other side of this interface; the orchestrator only consumes events and a
// handful of request operations.
package platform

import (
	"context"
	"strings"
	"time"
)

// Contact identifies the authenticated platform user of a connection.
type Contact struct {
	JID  string
	Name string
}

// GroupInfo is the subset of group metadata the orchestrator cares about.
type GroupInfo struct {
	JID     string
	Subject string
}

// DialOptions configures a new connection handle.
type DialOptions struct {
	// SessionDir holds the durable credential state for this session.
	SessionDir string
	// KeepAliveInterval is forwarded to the underlying transport.
	KeepAliveInterval time.Duration
}

// Client is one live connection handle. A handle is owned by exactly one
// session record; creating a replacement requires closing the old one first.
type Client interface {
	// Events delivers platform events until the handle is closed, at which
	// point the channel is closed.
	Events() <-chan Event

	RequestPairingCode(ctx context.Context, number string) (string, error)
	SendPresence(ctx context.Context) error
	SendMessage(ctx context.Context, toJID, text string) error
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
	FetchBlocklist(ctx context.Context) ([]string, error)
	GroupMetadata(ctx context.Context, jid string) (*GroupInfo, error)
	Logout(ctx context.Context) error

	// IsRegistered reports whether the handle's credentials are linked to a
	// platform account.
	IsRegistered() bool
	User() Contact

	Close() error
}

// Dialer creates a fresh handle from durable state on disk.
type Dialer func(ctx context.Context, opts DialOptions) (Client, error)

const userSuffix = "@s.whatsapp.net"

// UserJID builds the platform address for a normalized phone number.
func UserJID(id string) string {
	return id + userSuffix
}

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// IsBroadcastJID reports whether jid is the status broadcast pseudo-chat.
func IsBroadcastJID(jid string) bool {
	return jid == "status@broadcast"
}
