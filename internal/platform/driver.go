package platform

import (
	"context"
	"errors"
	"sync"
)

// ErrNoDriver is returned by Dial when no concrete client library has been
// registered.
var ErrNoDriver = errors.New("platform: no driver registered")

var (
	driverMu sync.RWMutex
	driver   Dialer
)

// Register installs the concrete client library as the process-wide driver,
// following the database/sql registration pattern. Driver packages call this
// from init; the last registration wins.
func Register(d Dialer) {
	driverMu.Lock()
	driver = d
	driverMu.Unlock()
}

// Dial opens a handle through the registered driver.
func Dial(ctx context.Context, opts DialOptions) (Client, error) {
	driverMu.RLock()
	d := driver
	driverMu.RUnlock()
	if d == nil {
		return nil, ErrNoDriver
	}
	return d(ctx, opts)
}
