package model

import "time"

// PersistedMeta is the small durable record kept next to each session's
// credential state. All timestamps are unix milliseconds; zero means unset.
type PersistedMeta struct {
	LastCodeAt        int64 `json:"lastCodeAt,omitempty"`
	RegisteredAt      int64 `json:"registeredAt,omitempty"`
	UnusedCodes       int   `json:"unusedCodes,omitempty"`
	LastCodeExpiredAt int64 `json:"lastCodeExpiredAt,omitempty"`
	NotifiedOnline    bool  `json:"notifiedOnline,omitempty"`
}

// MetaPatch is a shallow merge applied on top of the stored PersistedMeta.
// Nil fields are left untouched.
type MetaPatch struct {
	LastCodeAt        *int64
	RegisteredAt      *int64
	UnusedCodes       *int
	LastCodeExpiredAt *int64
	NotifiedOnline    *bool
}

type CodeResult struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ResetResult struct {
	OK bool `json:"ok"`
}

type DeleteResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type BootstrapResult struct {
	ID      string `json:"id"`
	Started bool   `json:"started"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type BotSummary struct {
	ID     string        `json:"id"`
	Uptime time.Duration `json:"uptime"`
	Name   string        `json:"name"`
}

type ActiveBots struct {
	Total int          `json:"total"`
	Bots  []BotSummary `json:"bots"`
}

// DispatchOutcome records one target of a command fan-out.
type DispatchOutcome struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type DispatchResult struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message"`
	Success []DispatchOutcome `json:"success"`
	Errors  []DispatchOutcome `json:"errors"`
}

type BotInfo struct {
	OK           bool          `json:"ok"`
	Phone        string        `json:"phone"`
	Status       SessionStatus `json:"status"`
	ProfilePic   string        `json:"profilePic,omitempty"`
	UptimeMs     int64         `json:"uptimeMs"`
	Uptime       string        `json:"uptime"`
	BlockedCount int           `json:"blockedCount"`
	Name         string        `json:"name"`
	JID          string        `json:"jid"`
	LastOpenAt   *time.Time    `json:"lastOpenAt,omitempty"`
}
