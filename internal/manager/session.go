package manager

import (
	"time"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
)

// session is one live registry record. All fields are guarded by the
// manager's mutex; the generation changes whenever the record is replaced so
// that suspended operations and timer callbacks can detect staleness.
type session struct {
	id  string
	gen uint64

	status model.SessionStatus
	client platform.Client

	code          string
	codeExpiresAt time.Time
	inPairing     bool

	isOpen     bool
	lastOpenAt time.Time

	timers timerSet

	// Best-effort group id to display-name cache. Lives and dies with
	// the record.
	groupCache map[string]string
}

// timerSet owns every scheduled callback of one session. cancelAll runs on
// each teardown path before the record leaves the registry, so a late timer
// can never act on a deleted session.
type timerSet struct {
	cleanup   *time.Timer
	code      *time.Timer
	reconnect *time.Timer
	deadline  *time.Timer

	keepAliveDone chan struct{}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (ts *timerSet) cancelCleanup()   { stopTimer(&ts.cleanup) }
func (ts *timerSet) cancelCode()      { stopTimer(&ts.code) }
func (ts *timerSet) cancelReconnect() { stopTimer(&ts.reconnect) }
func (ts *timerSet) cancelDeadline()  { stopTimer(&ts.deadline) }

func (ts *timerSet) cancelAll() {
	ts.cancelCleanup()
	ts.cancelCode()
	ts.cancelReconnect()
	ts.cancelDeadline()
	if ts.keepAliveDone != nil {
		close(ts.keepAliveDone)
		ts.keepAliveDone = nil
	}
}

// registered reports whether the session's credentials are linked, from the
// live handle if present.
func (s *session) registered() bool {
	return s.client != nil && s.client.IsRegistered()
}
