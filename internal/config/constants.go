package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const RetentionJobInterval = 1 * time.Hour

// Extra slack on the pairing-code expiry timer so the platform-side
// expiry always wins the race
const CodeExpiryGrace = 500 * time.Millisecond

// Ceiling for the accelerated cleanup rearm after a code expires unused
const IdleCleanupWindow = 5 * time.Minute
