package session

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"
)

//go:generate moq -out mocks/global_counter.go -pkg mocks -skip-ensure -fmt goimports . GlobalCounter
//go:generate moq -out mocks/guard.go -pkg mocks -skip-ensure -fmt goimports . Guard

// GlobalCounter reports the system-wide count of queued+running jobs on the
// execution server.
type GlobalCounter interface {
	ActiveCount(ctx context.Context) (int, error)
}

// Guard is an optional local pre-admission check (e.g. host load), consulted
// after the local count and before any network call.
type Guard interface {
	Check() (ok bool, reason string)
}

// Admission gates new submissions against the per-client and global
// concurrency ceilings. The local count is evaluated first so a local reject
// never costs a network call.
type Admission struct {
	Registry        *Registry
	Counter         GlobalCounter
	Guard           Guard // optional
	MaxActive       int   // per-client ceiling
	GlobalMaxActive int   // 0 disables the global check
}

// CanAdmit reports whether a new submission is allowed right now. The
// returned reason is empty on admit and user-presentable on reject. The
// counts are read fresh, there is no reservation, so a concurrent burst can
// momentarily exceed the ceiling - it is a soft limit, not a lock.
func (a *Admission) CanAdmit(ctx context.Context) (bool, string) {
	if local := a.Registry.ActiveCount(); local >= a.MaxActive {
		return false, fmt.Sprintf("per-client limit reached (%d active, max %d)", local, a.MaxActive)
	}

	if a.Guard != nil {
		if ok, reason := a.Guard.Check(); !ok {
			return false, fmt.Sprintf("host not ready: %s", reason)
		}
	}

	if a.GlobalMaxActive <= 0 {
		return true, ""
	}

	global, err := a.Counter.ActiveCount(ctx)
	if err != nil {
		// the ceiling is advisory, favor availability when the server can't
		// be asked
		log.Printf("[WARN] can't get global active count, admitting: %v", err)
		return true, ""
	}
	if global >= a.GlobalMaxActive {
		return false, fmt.Sprintf("system-wide limit reached (%d active, max %d)", global, a.GlobalMaxActive)
	}
	return true, ""
}
