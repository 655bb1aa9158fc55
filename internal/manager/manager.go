// Package manager owns the session registry and the lifecycle of every
// platform connection: pairing, reconnection, abandoned-session cleanup and
// startup reconciliation. All registry mutation goes through one mutex;
// operations that suspend re-fetch their record afterwards and abort when
// it was deleted or replaced in the meantime.
package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	"github.com/openclaw/wa-orchestrator-go/internal/config"
	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/store"
	"github.com/openclaw/wa-orchestrator-go/internal/util"
)

type Manager struct {
	cfg   *config.Config
	store store.Store
	bus   *bus.Bus
	dial  platform.Dialer

	mu       sync.Mutex
	sessions map[string]*session
	nextGen  uint64
	closed   bool

	// Serializes overlapping pairing/start requests for the same id.
	opMu    sync.Mutex
	opLocks map[string]*sync.Mutex
}

func New(cfg *config.Config, st store.Store, b *bus.Bus, dial platform.Dialer) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		bus:      b,
		dial:     dial,
		sessions: make(map[string]*session),
		nextGen:  1,
		opLocks:  make(map[string]*sync.Mutex),
	}
}

// idLock returns the per-id mutex used to serialize destructive operations.
func (m *Manager) idLock(id string) *sync.Mutex {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	l, ok := m.opLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.opLocks[id] = l
	}
	return l
}

func (m *Manager) emit(id, text string, typ model.EventType) {
	m.bus.Publish(bus.Event{ID: id, Text: text, Type: typ})
	log.Debug().Str("id", id).Str("type", string(typ)).Msg(text)
}

// StartSession brings up a connection handle for id, idempotently: an
// existing live handle is returned as-is.
func (m *Manager) StartSession(ctx context.Context, idRaw string) error {
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return err
	}

	l := m.idLock(id)
	l.Lock()
	defer l.Unlock()

	_, err = m.startSession(ctx, id)
	return err
}

// startSession dials a fresh handle unless the record already owns one.
// Callers hold the per-id lock; the registry lock is taken only around map
// access so the dial itself never blocks other sessions.
func (m *Manager) startSession(ctx context.Context, id string) (*session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.Internal("manager is shut down")
	}
	if s, ok := m.sessions[id]; ok && s.client != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if err := m.store.EnsureDir(id); err != nil {
		return nil, err
	}

	m.emit(id, "startSession: creating handle", model.EventInfo)

	client, err := m.dial(ctx, platform.DialOptions{
		SessionDir:        filepath.Join(m.store.Root(), id),
		KeepAliveInterval: m.cfg.KeepAliveInterval(),
	})
	if err != nil {
		m.emit(id, fmt.Sprintf("startSession error: %v", err), model.EventError)
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to create handle", err)
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	switch {
	case ok && s.client != nil:
		// Lost the race against a concurrent start. Never keep two
		// live handles for one id.
		m.mu.Unlock()
		_ = client.Close()
		return s, nil
	case ok:
		// Record survived a disconnect with its handle discarded.
		// Attach the new handle, keeping generation and timers.
		s.client = client
	default:
		s = &session{
			id:         id,
			gen:        m.nextGen,
			status:     model.StatusInit,
			client:     client,
			groupCache: make(map[string]string),
		}
		m.nextGen++
		m.sessions[id] = s
		s.timers.keepAliveDone = make(chan struct{})
		go m.keepAlive(id, s.gen, s.timers.keepAliveDone)
	}
	gen := s.gen
	m.mu.Unlock()

	go m.consumeEvents(id, gen, client)
	return s, nil
}

// GetStatus reports the lifecycle state of id, or offline when no record
// exists.
func (m *Manager) GetStatus(idRaw string) (model.SessionStatus, error) {
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.StatusOffline, nil
	}
	if s.registered() && s.isOpen {
		return model.StatusOpen, nil
	}
	if s.status == "" {
		return model.StatusInit, nil
	}
	return s.status, nil
}

// Reset fully tears down id: cancel every timer, close the handle, drop the
// registry record and wipe the session directory. Filesystem failures are
// logged and swallowed so the registry never stays inconsistent.
func (m *Manager) Reset(idRaw string) (model.ResetResult, error) {
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return model.ResetResult{}, err
	}

	m.teardown(id)

	if err := m.store.Wipe(id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("reset: failed to wipe session directory")
	}

	m.emit(id, "resetSession: session removed", model.EventWarn)
	return model.ResetResult{OK: true}, nil
}

// teardown removes the in-memory record, cancelling all timers before the
// record leaves the map and closing any live handle after.
func (m *Manager) teardown(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	var client platform.Client
	if ok {
		s.timers.cancelAll()
		client = s.client
		s.client = nil
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

// DeleteByNumber is the operator-facing delete: in-memory teardown plus
// best-effort directory removal with existence verification.
func (m *Manager) DeleteByNumber(phone string) model.DeleteResult {
	id, err := util.NormalizePhone(phone)
	if err != nil {
		return model.DeleteResult{OK: false, Message: err.Error()}
	}

	m.mu.Lock()
	_, hadRecord := m.sessions[id]
	m.mu.Unlock()

	if hadRecord {
		m.teardown(id)
		m.emit(id, "session removed from memory", model.EventInfo)
	}

	if !m.store.HasDir(id) {
		return model.DeleteResult{OK: false, Message: "session not found"}
	}

	if err := m.store.Wipe(id); err != nil {
		m.emit(id, fmt.Sprintf("error removing session directory: %v", err), model.EventError)
		return model.DeleteResult{OK: false, Message: fmt.Sprintf("error removing session directory: %v", err)}
	}

	if m.store.HasDir(id) {
		return model.DeleteResult{OK: false, Message: "session directory could not be fully removed"}
	}

	return model.DeleteResult{OK: true, Message: fmt.Sprintf("session %s and all its files removed", id)}
}

// ActiveBots lists sessions that are registered and currently open.
func (m *Manager) ActiveBots() model.ActiveBots {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := model.ActiveBots{Bots: []model.BotSummary{}}
	for id, s := range m.sessions {
		registered := s.registered() || m.store.IsRegistered(id)
		if !registered || !s.isOpen {
			continue
		}
		var uptime time.Duration
		if !s.lastOpenAt.IsZero() {
			uptime = time.Since(s.lastOpenAt)
		}
		name := "unnamed"
		if s.client != nil {
			if u := s.client.User(); u.Name != "" {
				name = u.Name
			}
		}
		out.Bots = append(out.Bots, model.BotSummary{ID: id, Uptime: uptime, Name: name})
	}
	sort.Slice(out.Bots, func(i, j int) bool { return out.Bots[i].ID < out.Bots[j].ID })
	out.Total = len(out.Bots)
	return out
}

// BotInfo gathers opportunistic details for one live session. Lookups that
// fail degrade to defaults instead of failing the call.
func (m *Manager) BotInfo(ctx context.Context, phone string) model.BotInfo {
	id, err := util.NormalizePhone(phone)
	if err != nil {
		return model.BotInfo{OK: false}
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.client == nil {
		m.mu.Unlock()
		return model.BotInfo{OK: false, Phone: id}
	}
	client := s.client
	lastOpenAt := s.lastOpenAt
	status := s.status
	if s.registered() && s.isOpen {
		status = model.StatusOpen
	}
	m.mu.Unlock()

	info := model.BotInfo{OK: true, Phone: id, Status: status}

	user := client.User()
	info.Name = user.Name
	if info.Name == "" {
		info.Name = "unnamed"
	}
	info.JID = user.JID
	if info.JID == "" {
		info.JID = platform.UserJID(id)
	}

	if pic, err := client.ProfilePictureURL(ctx, info.JID); err == nil {
		info.ProfilePic = pic
	}
	if blocked, err := client.FetchBlocklist(ctx); err == nil {
		info.BlockedCount = len(blocked)
	} else {
		m.emit(id, fmt.Sprintf("error fetching blocklist: %v", err), model.EventError)
	}

	if !lastOpenAt.IsZero() {
		uptime := time.Since(lastOpenAt)
		info.UptimeMs = uptime.Milliseconds()
		info.Uptime = util.FormatUptime(uptime)
		t := lastOpenAt
		info.LastOpenAt = &t
	} else {
		info.Uptime = util.FormatUptime(0)
	}

	return info
}

// SubscribeLogs follows one session's events.
func (m *Manager) SubscribeLogs(idRaw string) (*bus.Subscriber, error) {
	id, err := util.NormalizePhone(idRaw)
	if err != nil {
		return nil, err
	}
	return m.bus.Subscribe(id), nil
}

// SubscribeAllLogs follows every session's events.
func (m *Manager) SubscribeAllLogs() *bus.Subscriber {
	return m.bus.SubscribeAll()
}

// Close tears down every session for process shutdown. Directories are left
// untouched so the next bootstrap can reconcile them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.teardown(id)
	}
	log.Info().Int("sessions", len(ids)).Msg("manager closed")
}

// requestTag labels the log lines of one pairing request.
func requestTag() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b))
}
