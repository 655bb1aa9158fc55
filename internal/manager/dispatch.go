package manager

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/util"
)

// BroadcastTarget fans a command out to every active session.
const BroadcastTarget = "all"

// command is one allow-listed handle operation. Arbitrary method dispatch is
// deliberately not supported; unknown names surface as per-target
// METHOD_NOT_ALLOWED without aborting the batch.
type command func(ctx context.Context, client platform.Client, args []string) (any, error)

var commands = map[string]command{
	"presence": func(ctx context.Context, client platform.Client, _ []string) (any, error) {
		return "ok", client.SendPresence(ctx)
	},
	"sendMessage": func(ctx context.Context, client platform.Client, args []string) (any, error) {
		if len(args) < 2 {
			return nil, apperrors.Validation("sendMessage requires jid and text arguments")
		}
		return "ok", client.SendMessage(ctx, args[0], args[1])
	},
	"profilePicture": func(ctx context.Context, client platform.Client, args []string) (any, error) {
		if len(args) < 1 {
			return nil, apperrors.Validation("profilePicture requires a jid argument")
		}
		return client.ProfilePictureURL(ctx, args[0])
	},
	"blocklist": func(ctx context.Context, client platform.Client, _ []string) (any, error) {
		return client.FetchBlocklist(ctx)
	},
	"groupMetadata": func(ctx context.Context, client platform.Client, args []string) (any, error) {
		if len(args) < 1 {
			return nil, apperrors.Validation("groupMetadata requires a jid argument")
		}
		return client.GroupMetadata(ctx, args[0])
	},
	"logout": func(ctx context.Context, client platform.Client, _ []string) (any, error) {
		return "ok", client.Logout(ctx)
	},
}

// Execute runs an allow-listed command against one session or, with the
// broadcast target, every active one. The fan-out is best-effort with
// per-target success/error accounting.
func (m *Manager) Execute(ctx context.Context, target, method string, args ...string) model.DispatchResult {
	targets, errResult := m.dispatchTargets(target)
	if errResult != nil {
		return *errResult
	}

	result := model.DispatchResult{
		OK:      true,
		Success: []model.DispatchOutcome{},
		Errors:  []model.DispatchOutcome{},
	}

	cmd, known := commands[method]
	for _, id := range targets {
		if !known {
			result.Errors = append(result.Errors, model.DispatchOutcome{
				ID:     id,
				Method: method,
				Error:  apperrors.MethodNotAllowed(method).Error(),
			})
			m.emit(id, fmt.Sprintf("method %s not available", method), model.EventError)
			continue
		}

		client := m.clientFor(id)
		if client == nil {
			result.Errors = append(result.Errors, model.DispatchOutcome{
				ID:     id,
				Method: method,
				Error:  "session is no longer active",
			})
			continue
		}

		out, err := cmd(ctx, client, args)
		if err != nil {
			result.Errors = append(result.Errors, model.DispatchOutcome{
				ID:     id,
				Method: method,
				Error:  err.Error(),
			})
			m.emit(id, fmt.Sprintf("error in method %s: %v", method, err), model.EventError)
			continue
		}

		result.Success = append(result.Success, model.DispatchOutcome{
			ID:     id,
			Method: method,
			Result: out,
		})
		m.emit(id, fmt.Sprintf("method executed: %s", method), model.EventSuccess)
	}

	result.Message = fmt.Sprintf("method %s executed on %d sessions", method, len(result.Success))
	return result
}

// dispatchTargets resolves the target expression to session ids.
func (m *Manager) dispatchTargets(target string) ([]string, *model.DispatchResult) {
	if target == BroadcastTarget {
		m.mu.Lock()
		targets := make([]string, 0, len(m.sessions))
		for id, s := range m.sessions {
			registered := s.registered() || m.store.IsRegistered(id)
			if registered && s.isOpen && s.client != nil {
				targets = append(targets, id)
			}
		}
		m.mu.Unlock()

		if len(targets) == 0 {
			return nil, &model.DispatchResult{OK: false, Message: "no active sessions to execute against"}
		}
		return targets, nil
	}

	id, err := util.NormalizePhone(target)
	if err != nil {
		return nil, &model.DispatchResult{OK: false, Message: err.Error()}
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	active := ok && s.isOpen && s.client != nil
	m.mu.Unlock()

	if !active {
		return nil, &model.DispatchResult{OK: false, Message: fmt.Sprintf("session %s not found or not active", target)}
	}
	return []string{id}, nil
}

// clientFor snapshots the live handle for id, if any.
func (m *Manager) clientFor(id string) platform.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.client
	}
	return nil
}

// Commands lists the allow-listed command names.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
