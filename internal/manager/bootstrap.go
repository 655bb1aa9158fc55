package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/util"
)

// BootstrapAll reconciles every persisted session directory with the live
// registry at process start. Directories are sanitized first; stale
// unregistered signups are reset instead of started. Session starts are
// paced to avoid bursting the platform.
func (m *Manager) BootstrapAll(ctx context.Context) ([]string, error) {
	ids, err := m.store.ListIDs()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := m.store.Sanitize(id); err != nil {
			m.emit(id, fmt.Sprintf("bootstrap sanitize error: %v", err), model.EventError)
		}
	}

	for _, id := range ids {
		select {
		case <-time.After(m.cfg.BootstrapDelay()):
		case <-ctx.Done():
			return ids, ctx.Err()
		}

		if m.resetIfStale(id, "bootstrap") {
			continue
		}

		if _, err := m.startSession(ctx, id); err != nil {
			m.emit(id, fmt.Sprintf("bootstrap error: %v", err), model.EventError)
			continue
		}

		registered := m.store.IsRegistered(id)
		if registered {
			m.emit(id, "bootstrap: registered", model.EventInfo)
		} else {
			m.emit(id, "bootstrap: not registered", model.EventInfo)
			m.armCleanup(id)
		}
	}
	return ids, nil
}

// BootstrapOne performs the same reconciliation for a single id on demand.
func (m *Manager) BootstrapOne(ctx context.Context, idRaw string) model.BootstrapResult {
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return model.BootstrapResult{ID: idRaw, Started: false, Status: "error", Error: err.Error()}
	}

	if !m.store.HasDir(id) {
		m.emit(id, "bootstrapOne: session not found on disk", model.EventError)
		return model.BootstrapResult{ID: id, Started: false, Status: "not_found"}
	}

	status, err := m.GetStatus(id)
	if err != nil {
		return model.BootstrapResult{ID: id, Started: false, Status: "error", Error: err.Error()}
	}
	if status != model.StatusOffline {
		m.emit(id, fmt.Sprintf("bootstrapOne: session already %s", status), model.EventInfo)
		return model.BootstrapResult{ID: id, Started: false, Status: string(status)}
	}

	if err := m.store.Sanitize(id); err != nil {
		m.emit(id, fmt.Sprintf("bootstrapOne sanitize error: %v", err), model.EventError)
	}

	if m.resetIfStale(id, "bootstrapOne") {
		// Stale signup wiped; recreate an empty directory so a fresh
		// start has somewhere to put credentials.
		if err := m.store.EnsureDir(id); err != nil {
			return model.BootstrapResult{ID: id, Started: false, Status: "error", Error: err.Error()}
		}
	}

	if _, err := m.startSession(ctx, id); err != nil {
		m.emit(id, fmt.Sprintf("bootstrapOne error: %v", err), model.EventError)
		return model.BootstrapResult{ID: id, Started: false, Status: "error", Error: err.Error()}
	}

	if m.store.IsRegistered(id) {
		m.emit(id, "bootstrapOne: registered", model.EventInfo)
		return model.BootstrapResult{ID: id, Started: true, Status: "open"}
	}

	m.emit(id, "bootstrapOne: not registered", model.EventInfo)
	m.armCleanup(id)
	return model.BootstrapResult{ID: id, Started: true, Status: "pending"}
}

// resetIfStale resets an unregistered session whose last pairing code is
// older than the grace window and reports whether it did.
func (m *Manager) resetIfStale(id, op string) bool {
	if m.store.IsRegistered(id) {
		return false
	}
	last := m.store.ReadMeta(id).LastCodeAt
	if last == 0 || time.Since(time.UnixMilli(last)) < m.cfg.CleanupGrace() {
		return false
	}

	m.emit(id, op+": unregistered and stale, resetting", model.EventWarn)
	if _, err := m.Reset(id); err != nil {
		m.emit(id, fmt.Sprintf("%s reset error: %v", op, err), model.EventError)
	}
	return true
}

// armCleanup schedules the abandoned-session timer for a live record.
func (m *Manager) armCleanup(id string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.scheduleCleanupLocked(s, 0)
	}
	m.mu.Unlock()
}
