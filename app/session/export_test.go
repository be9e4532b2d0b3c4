package session

import "time"

// SetNow overrides the ledger clock, tests only.
func (l *Ledger) SetNow(fn func() time.Time) { l.now = fn }
