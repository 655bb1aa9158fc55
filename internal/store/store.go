// Package store manages the durable on-disk state of sessions: one directory
// per session id holding the platform credential blob, app-state blobs and a
// small JSON metadata sidecar.
package store

import "github.com/openclaw/wa-orchestrator-go/internal/model"

// Store is the durable per-session state surface used by the manager.
type Store interface {
	// Root returns the sessions base directory.
	Root() string

	// EnsureDir creates the directory for id if missing.
	EnsureDir(id string) error
	// HasDir reports whether a session directory exists for id.
	HasDir(id string) bool
	// ListIDs enumerates session directories whose name is a valid id.
	ListIDs() ([]string, error)

	// ReadMeta loads the metadata sidecar. Missing or corrupt sidecars
	// read as the zero value.
	ReadMeta(id string) model.PersistedMeta
	// MergeMeta applies a shallow patch on top of the stored sidecar.
	MergeMeta(id string, patch model.MetaPatch) error

	// IsRegistered reports durable evidence that the session's credentials
	// are linked to a platform account.
	IsRegistered(id string) bool

	// Sanitize removes transient artifacts from a session directory while
	// retaining credentials, app-state blobs and the metadata sidecar.
	Sanitize(id string) error
	// Wipe removes the whole session directory.
	Wipe(id string) error
}
