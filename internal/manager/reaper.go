package manager

import (
	"fmt"
	"time"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
)

// scheduleCleanupLocked (re)arms the abandoned-session timer. Callers hold
// the registry lock. A zero window means the full grace period.
func (m *Manager) scheduleCleanupLocked(s *session, window time.Duration) {
	if window <= 0 {
		window = m.cfg.CleanupGrace()
	}
	s.timers.cancelCleanup()
	id, gen := s.id, s.gen
	s.timers.cleanup = time.AfterFunc(window, func() {
		m.onCleanup(id, gen)
	})
}

// onCleanup is the abandoned-session reaper. It re-checks registration when
// it fires: the timer is cancelled on registration, so finding a registered
// session here is only a safety net. Unregistered sessions whose last code
// is older than the grace window are fully reset; fresh ones get the timer
// rearmed for another full grace period.
func (m *Manager) onCleanup(id string, gen uint64) {
	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil {
		m.mu.Unlock()
		return
	}

	registered := s.registered() || m.store.IsRegistered(id)
	if registered {
		m.mu.Unlock()
		return
	}

	last := m.store.ReadMeta(id).LastCodeAt
	stale := last > 0 && time.Since(time.UnixMilli(last)) >= m.cfg.CleanupGrace()
	if !stale {
		m.scheduleCleanupLocked(s, 0)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.emit(id, fmt.Sprintf("cleanup: session abandoned (>%s), removing", m.cfg.CleanupGrace()), model.EventWarn)
	if _, err := m.Reset(id); err != nil {
		m.emit(id, fmt.Sprintf("cleanup error: %v", err), model.EventError)
	}
}
