package platform

import "time"

// ConnectionState mirrors the platform's connection lifecycle notifications.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// DisconnectReason is the machine-readable close code carried on a
// connection-state change. Zero means no reason was supplied.
type DisconnectReason int

const (
	ReasonNone            DisconnectReason = 0
	ReasonConnectionLost  DisconnectReason = 408
	ReasonLoggedOut       DisconnectReason = 401
	ReasonRestartRequired DisconnectReason = 515
)

// Terminal reports whether the reason means credentials were revoked and no
// reconnection should be attempted.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// Event is a platform notification delivered on Client.Events.
type Event interface {
	isEvent()
}

// CredsUpdate fires whenever credential state changes, including the moment
// the account becomes registered after pairing.
type CredsUpdate struct {
	Registered bool
}

// ConnectionUpdate fires on every connection state change. Reason and
// Registered are only meaningful when State is StateClose.
type ConnectionUpdate struct {
	State      ConnectionState
	Reason     DisconnectReason
	Registered bool
}

// Message is one inbound message, already unwrapped from any ephemeral
// envelope.
type Message struct {
	Chat      string
	Sender    string
	PushName  string
	Kind      string
	Text      string
	Timestamp time.Time
	FromMe    bool
}

// MessagesUpsert delivers a batch of inbound messages.
type MessagesUpsert struct {
	Messages []Message
}

// GroupParticipantsUpdate fires when members join or leave a group chat.
type GroupParticipantsUpdate struct {
	GroupJID     string
	Action       string
	Participants []string
}

func (CredsUpdate) isEvent()             {}
func (ConnectionUpdate) isEvent()        {}
func (MessagesUpsert) isEvent()          {}
func (GroupParticipantsUpdate) isEvent() {}
