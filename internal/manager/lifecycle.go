package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
)

// consumeEvents drains one handle's event stream. The loop belongs to the
// handle, not the record: when the handle is closed its channel closes and
// the loop exits, even if the record lives on with a replacement handle.
func (m *Manager) consumeEvents(id string, gen uint64, client platform.Client) {
	for ev := range client.Events() {
		switch e := ev.(type) {
		case platform.CredsUpdate:
			m.handleCreds(id, gen, e)
		case platform.ConnectionUpdate:
			m.handleConnection(id, gen, client, e)
		case platform.MessagesUpsert:
			m.handleMessages(id, gen, client, e)
		case platform.GroupParticipantsUpdate:
			m.handleGroupParticipants(id, e)
		}
	}
}

// current returns the record for id if it still matches gen. A nil return
// means the operation behind the caller was superseded.
func (m *Manager) current(id string, gen uint64) *session {
	s, ok := m.sessions[id]
	if !ok || s.gen != gen {
		return nil
	}
	return s
}

func (m *Manager) handleCreds(id string, gen uint64, ev platform.CredsUpdate) {
	if !ev.Registered {
		m.emit(id, "creds updated", model.EventInfo)
		return
	}

	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.status = model.StatusOpen
	s.code = ""
	s.codeExpiresAt = time.Time{}
	s.inPairing = false
	s.timers.cancelCode()
	s.timers.cancelCleanup()
	m.mu.Unlock()

	meta := m.store.ReadMeta(id)
	zero := 0
	patch := model.MetaPatch{UnusedCodes: &zero}
	if meta.RegisteredAt == 0 {
		now := time.Now().UnixMilli()
		patch.RegisteredAt = &now
	}
	if err := m.store.MergeMeta(id, patch); err != nil {
		m.emit(id, fmt.Sprintf("error persisting registration: %v", err), model.EventError)
	}

	m.emit(id, "credentials registered", model.EventSuccess)
}

func (m *Manager) handleConnection(id string, gen uint64, client platform.Client, ev platform.ConnectionUpdate) {
	switch ev.State {
	case platform.StateOpen:
		m.handleOpen(id, gen, client)
	case platform.StateClose:
		m.handleClose(id, gen, ev)
	default:
		m.emit(id, string(ev.State), model.EventInfo)
	}
}

func (m *Manager) handleOpen(id string, gen uint64, client platform.Client) {
	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.status = model.StatusOpen
	s.inPairing = false
	s.isOpen = true
	s.lastOpenAt = time.Now()
	s.timers.cancelReconnect()
	s.timers.cancelDeadline()
	s.timers.cancelCleanup()
	registered := s.registered()
	m.mu.Unlock()

	m.emit(id, "connected", model.EventSuccess)

	if registered {
		go m.notifyOnline(id, client)
	}
}

// notifyOnline sends the one-time welcome message after the first registered
// open. Best effort; a failed send is retried on the next open because the
// flag is only set after success.
func (m *Manager) notifyOnline(id string, client platform.Client) {
	meta := m.store.ReadMeta(id)
	if meta.NotifiedOnline || m.cfg.WelcomeMessage == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.SendMessage(ctx, platform.UserJID(id), m.cfg.WelcomeMessage); err != nil {
		m.emit(id, fmt.Sprintf("error sending welcome message: %v", err), model.EventError)
		return
	}

	notified := true
	zero := 0
	if err := m.store.MergeMeta(id, model.MetaPatch{NotifiedOnline: &notified, UnusedCodes: &zero}); err != nil {
		m.emit(id, fmt.Sprintf("error persisting welcome flag: %v", err), model.EventError)
		return
	}
	m.emit(id, "welcome message sent", model.EventSuccess)
}

// handleClose is the reconnection supervisor. Registered sessions with a
// non-terminal close reason get a delayed retry plus a one-shot deadline
// watch; everything else is handed to the abandoned-session reaper.
func (m *Manager) handleClose(id string, gen uint64, ev platform.ConnectionUpdate) {
	terminal := ev.Reason.Terminal()

	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	if terminal {
		s.status = model.StatusLoggedOut
	} else {
		s.status = model.StatusClosed
	}
	s.isOpen = false

	if ev.Registered && !terminal {
		retry := m.cfg.ReconnectRetry()
		s.timers.cancelReconnect()
		s.timers.reconnect = time.AfterFunc(retry, func() {
			m.reconnect(id, gen)
		})
		s.timers.cancelDeadline()
		deadline := m.cfg.ReconnectDeadline()
		s.timers.deadline = time.AfterFunc(deadline, func() {
			m.onReconnectDeadline(id, gen, deadline)
		})
		m.mu.Unlock()
		m.emit(id, fmt.Sprintf("disconnected (reason %d), reconnecting in %s", ev.Reason, retry), model.EventWarn)
		return
	}

	s.timers.cancelReconnect()
	s.timers.cancelDeadline()
	m.scheduleCleanupLocked(s, 0)
	m.mu.Unlock()
	m.emit(id, "not reconnecting (unregistered or logged out); cleanup scheduled", model.EventWarn)
}

// reconnect discards the dead handle and dials a fresh one. The record and
// its generation survive; only the handle changes.
func (m *Manager) reconnect(id string, gen uint64) {
	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil || s.isOpen {
		m.mu.Unlock()
		return
	}
	old := s.client
	s.client = nil
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.startSession(ctx, id); err != nil {
		m.emit(id, fmt.Sprintf("reconnect error: %v", err), model.EventError)
	}
}

// onReconnectDeadline fires once per close if the session has not reopened.
// Observability only; the retry loop stays the recovery mechanism.
func (m *Manager) onReconnectDeadline(id string, gen uint64, deadline time.Duration) {
	m.mu.Lock()
	s := m.current(id, gen)
	if s == nil || s.isOpen {
		m.mu.Unlock()
		return
	}
	s.timers.deadline = nil
	m.mu.Unlock()

	m.emit(id, fmt.Sprintf("no reconnection within %s, session dropped from active set", deadline), model.EventError)
}

func (m *Manager) handleMessages(id string, gen uint64, client platform.Client, ev platform.MessagesUpsert) {
	for _, msg := range ev.Messages {
		if platform.IsBroadcastJID(msg.Chat) {
			continue
		}
		m.logIncoming(id, gen, client, msg)
	}
}

// logIncoming emits a structured message event. Group display names come
// from the per-session cache, filled in best-effort in the background.
func (m *Manager) logIncoming(id string, gen uint64, client platform.Client, msg platform.Message) {
	where := msg.Chat
	if platform.IsGroupJID(msg.Chat) {
		m.mu.Lock()
		s := m.current(id, gen)
		var name string
		if s != nil {
			name = s.groupCache[msg.Chat]
		}
		m.mu.Unlock()

		if name != "" {
			where = fmt.Sprintf("%s | %s", name, msg.Chat)
		} else {
			go m.cacheGroupName(id, gen, client, msg.Chat)
		}
	}

	pushName := msg.PushName
	if pushName == "" {
		pushName = "unnamed"
	}
	text := msg.Text
	if len(text) > 2000 {
		text = text[:2000]
	}
	if text == "" {
		text = "[no text]"
	}

	m.emit(id, fmt.Sprintf("MESSAGE %s | kind=%s | chat=%s | from=%s (%s)\n%s",
		msg.Timestamp.Format("02/01/06 15:04:05"), msg.Kind, where, pushName, msg.Sender, text),
		model.EventMessage)
}

func (m *Manager) cacheGroupName(id string, gen uint64, client platform.Client, groupJID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := client.GroupMetadata(ctx, groupJID)
	if err != nil || info == nil || info.Subject == "" {
		return
	}

	m.mu.Lock()
	if s := m.current(id, gen); s != nil {
		s.groupCache[groupJID] = info.Subject
	}
	m.mu.Unlock()
}

func (m *Manager) handleGroupParticipants(id string, ev platform.GroupParticipantsUpdate) {
	if ev.Action != "add" && ev.Action != "remove" {
		return
	}
	m.emit(id, fmt.Sprintf("group %s: %s %v", ev.GroupJID, ev.Action, ev.Participants), model.EventInfo)
}

// keepAlive sends periodic presence updates while the session is open. One
// loop per record; teardown closes done through cancelAll.
func (m *Manager) keepAlive(id string, gen uint64, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.KeepAliveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.mu.Lock()
			s := m.current(id, gen)
			var client platform.Client
			if s != nil && s.isOpen {
				client = s.client
			}
			m.mu.Unlock()

			if client == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = client.SendPresence(ctx)
			cancel()
		}
	}
}
