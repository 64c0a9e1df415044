package core

import "sync"

// ActivityLog is the append-only record of per-row outcomes for a run.
// It is safe to read while the driver appends.
type ActivityLog struct {
	mu      sync.RWMutex
	entries []ImportLog
}

// NewActivityLog returns a log seeded with entries restored from a
// checkpoint.
func NewActivityLog(seed []ImportLog) *ActivityLog {
	entries := make([]ImportLog, len(seed))
	copy(entries, seed)
	return &ActivityLog{entries: entries}
}

// Append records one outcome.
func (l *ActivityLog) Append(entry ImportLog) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy in processing order.
func (l *ActivityLog) Entries() []ImportLog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ImportLog, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns
// every entry.
func (l *ActivityLog) Recent(limit int) []ImportLog {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ImportLog, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of entries.
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
