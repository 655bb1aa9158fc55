package model

// SessionStatus tracks where a session is in its lifecycle.
type SessionStatus string

const (
	// Handle created, not yet authenticated.
	StatusInit SessionStatus = "init"
	// Pairing code issued, awaiting linking.
	StatusCode SessionStatus = "code"
	// Authenticated and connected.
	StatusOpen SessionStatus = "open"
	// Was registered, transiently disconnected.
	StatusClosed SessionStatus = "closed"
	// Terminal: the platform revoked credentials.
	StatusLoggedOut SessionStatus = "logged_out"
	// Pairing code expired without registration.
	StatusIdle SessionStatus = "idle"
	// Last operation failed.
	StatusError SessionStatus = "error"
	// No record exists for the id.
	StatusOffline SessionStatus = "offline"
)

// EventType classifies bus events.
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventWarn    EventType = "warn"
	EventError   EventType = "error"
	EventMessage EventType = "message"
)
