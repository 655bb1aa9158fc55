package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/wa-orchestrator-go/internal/config"
	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/util"
)

// RequestCode obtains a fresh pairing code for id. The operation is
// destructive-idempotent: any existing record and on-disk state for the id
// are torn down first so pairing always starts from a clean slate.
// Overlapping calls for the same id are serialized by the per-id lock.
func (m *Manager) RequestCode(ctx context.Context, idRaw, phoneRaw string) model.CodeResult {
	if idRaw == "" {
		idRaw = phoneRaw
	}
	if phoneRaw == "" {
		phoneRaw = idRaw
	}
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return model.CodeResult{Status: "error", Error: err.Error()}
	}
	num, err := util.NormalizePhone(phoneRaw)
	if err != nil {
		return model.CodeResult{Status: "error", Error: err.Error()}
	}

	l := m.idLock(id)
	l.Lock()
	defer l.Unlock()

	tag := requestTag()

	m.mu.Lock()
	_, exists := m.sessions[id]
	m.mu.Unlock()
	if exists {
		if _, err := m.Reset(id); err != nil {
			return model.CodeResult{Status: "error", Error: err.Error()}
		}
	}
	if m.store.HasDir(id) {
		if err := m.store.Wipe(id); err != nil {
			m.emit(id, fmt.Sprintf("[%s] error removing previous session: %v", tag, err), model.EventError)
		} else {
			m.emit(id, fmt.Sprintf("[%s] previous session removed", tag), model.EventInfo)
		}
	}

	s, err := m.startSession(ctx, id)
	if err != nil {
		return model.CodeResult{Status: "error", Error: err.Error()}
	}
	gen := s.gen

	m.mu.Lock()
	if s := m.current(id, gen); s != nil {
		s.inPairing = true
	}
	m.mu.Unlock()
	defer m.releasePairingGuard(id, gen)

	now := time.Now().UnixMilli()
	if err := m.store.MergeMeta(id, model.MetaPatch{LastCodeAt: &now}); err != nil {
		m.emit(id, fmt.Sprintf("[%s] error persisting lastCodeAt: %v", tag, err), model.EventError)
	}

	m.mu.Lock()
	if s := m.current(id, gen); s != nil {
		m.scheduleCleanupLocked(s, 0)
	}
	m.mu.Unlock()

	m.emit(id, fmt.Sprintf("[%s] requesting code for %s in %s", tag, num, m.cfg.PairingDelay()), model.EventInfo)

	// Anti-rate-limit delay before hitting the platform.
	select {
	case <-time.After(m.cfg.PairingDelay()):
	case <-ctx.Done():
		return m.pairingFailed(id, gen, tag, ctx.Err())
	}

	// The record may have been reset or replaced while we slept.
	client := m.liveClient(id, gen)
	if client == nil {
		m.emit(id, fmt.Sprintf("[%s] handle gone after delay, recreating", tag), model.EventWarn)
		s3, err := m.startSession(ctx, id)
		if err != nil {
			return model.CodeResult{Status: "error", Error: err.Error()}
		}
		gen = s3.gen
		m.mu.Lock()
		if s := m.current(id, gen); s != nil {
			s.inPairing = true
		}
		m.mu.Unlock()
		client = m.liveClient(id, gen)
		if client == nil {
			return model.CodeResult{Status: "error", Error: "session superseded during pairing"}
		}
	}

	code, err := client.RequestPairingCode(ctx, num)
	if err != nil {
		return m.pairingFailed(id, gen, tag, err)
	}

	m.mu.Lock()
	s4 := m.current(id, gen)
	if s4 == nil {
		m.mu.Unlock()
		return model.CodeResult{Status: "error", Error: "session superseded during pairing"}
	}
	s4.status = model.StatusCode
	s4.code = code
	s4.codeExpiresAt = time.Now().Add(m.cfg.CodeTTL())
	s4.timers.cancelCode()
	s4.timers.code = time.AfterFunc(m.cfg.CodeTTL()+config.CodeExpiryGrace, func() {
		m.onCodeExpired(id, gen)
	})
	m.mu.Unlock()

	m.emit(id, fmt.Sprintf("[%s] code received: %s (TTL %s)", tag, util.FormatCode(code), m.cfg.CodeTTL()), model.EventSuccess)
	return model.CodeResult{Status: "code", Code: code}
}

// liveClient fetches the record's handle if the record still matches gen.
func (m *Manager) liveClient(id string, gen uint64) platform.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.current(id, gen); s != nil {
		return s.client
	}
	return nil
}

// pairingFailed moves the session to error state and shapes the result. The
// pairing guard is released by the deferred call in RequestCode.
func (m *Manager) pairingFailed(id string, gen uint64, tag string, cause error) model.CodeResult {
	m.mu.Lock()
	if s := m.current(id, gen); s != nil {
		s.status = model.StatusError
	}
	m.mu.Unlock()

	m.emit(id, fmt.Sprintf("[%s] error requesting code: %v", tag, cause), model.EventError)
	return model.CodeResult{Status: "error", Error: cause.Error()}
}

func (m *Manager) releasePairingGuard(id string, gen uint64) {
	m.mu.Lock()
	if s := m.current(id, gen); s != nil {
		s.inPairing = false
	}
	m.mu.Unlock()
}

// onCodeExpired runs when the pairing code's TTL elapses. Registration in
// the meantime makes it a no-op; the second consecutive unused code resets
// the session outright since the number is evidently unreachable.
func (m *Manager) onCodeExpired(id string, gen uint64) {
	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	if s.registered() || m.store.IsRegistered(id) {
		m.mu.Unlock()
		return
	}

	unused := m.store.ReadMeta(id).UnusedCodes + 1
	expiredAt := time.Now().UnixMilli()
	if err := m.store.MergeMeta(id, model.MetaPatch{UnusedCodes: &unused, LastCodeExpiredAt: &expiredAt}); err != nil {
		m.emit(id, fmt.Sprintf("error persisting code expiry: %v", err), model.EventError)
	}

	s.code = ""
	s.codeExpiresAt = time.Time{}
	s.status = model.StatusIdle

	if unused >= 2 {
		m.mu.Unlock()
		m.emit(id, "code expired repeatedly, resetting immediately", model.EventError)
		if _, err := m.Reset(id); err != nil {
			m.emit(id, fmt.Sprintf("reset error: %v", err), model.EventError)
		}
		return
	}

	window := m.cfg.CleanupGrace()
	if config.IdleCleanupWindow < window {
		window = config.IdleCleanupWindow
	}
	m.scheduleCleanupLocked(s, window)
	m.mu.Unlock()

	m.emit(id, "code expired without registration, accelerated cleanup scheduled", model.EventWarn)
}
