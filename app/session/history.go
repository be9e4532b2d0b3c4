package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

const historyKey = "comfyq_history"

// HistoryEntry is a terminal snapshot of a job, keyed by prompt_id when the
// server acknowledged the job and by the local job id otherwise.
type HistoryEntry struct {
	Key            string   `json:"key"`
	JobID          string   `json:"job_id"`
	PromptID       string   `json:"prompt_id,omitempty"`
	Status         Status   `json:"status"`
	PositivePrompt string   `json:"positive_prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Seed           int32    `json:"seed"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	Images         []string `json:"images,omitempty"` // encoded artifacts
	Error          string   `json:"error,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	CompletedAt    int64    `json:"completed_at,omitempty"`
}

// HistoryPatch is a partial update applied by Ledger.Upsert. Nil fields are
// left unchanged.
type HistoryPatch struct {
	Status      *Status
	PromptID    *string
	Images      []string
	Error       *string
	CompletedAt *int64
}

// Ledger is the append-mostly log of terminal job outcomes, bounded by age
// and optionally by count. Entries past the TTL are hidden from Get and
// physically dropped on the next write.
type Ledger struct {
	store      Store
	ttl        time.Duration // 0 disables age bounding
	maxEntries int           // 0 disables count bounding
	now        func() time.Time

	mu      sync.Mutex
	entries []HistoryEntry // insertion ordered
}

// NewLedger makes an empty ledger over the given store.
func NewLedger(st Store, ttl time.Duration, maxEntries int) *Ledger {
	return &Ledger{store: st, ttl: ttl, maxEntries: maxEntries, now: time.Now}
}

// Load replaces the in-memory entries with whatever the store holds.
// Unreadable or malformed state degrades to an empty ledger.
func (l *Ledger) Load() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	raw, ok, err := l.store.Get(historyKey)
	if err != nil {
		log.Printf("[WARN] can't read history, starting empty: %v", err)
		return
	}
	if !ok {
		return
	}

	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("[WARN] malformed history, starting empty: %v", err)
		return
	}
	l.entries = entries
	log.Printf("[DEBUG] loaded %d history entr(ies) from store", len(entries))
}

// Get returns entries in insertion order, most recent last, with expired
// entries filtered out.
func (l *Ledger) Get() []HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make([]HistoryEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if l.expired(e) {
			continue
		}
		res = append(res, e)
	}
	return res
}

// Find returns the live entry with the given key.
func (l *Ledger) Find(key string) (HistoryEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.Key == key && !l.expired(e) {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// Append adds the entry at the end and evicts anything over the configured
// bounds.
func (l *Ledger) Append(entry HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	l.persist()
}

// Upsert merges the patch into the entry with the given key, preserving its
// position. A missing key appends the base entry with the patch applied.
func (l *Ledger) Upsert(key string, base HistoryEntry, patch HistoryPatch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Key != key {
			continue
		}
		applyHistoryPatch(&l.entries[i], patch)
		l.persist()
		return
	}

	base.Key = key
	applyHistoryPatch(&base, patch)
	l.entries = append(l.entries, base)
	l.persist()
}

// Delete removes the entry with the given key, missing key is a no-op.
func (l *Ledger) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Key == key {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.persist()
			return
		}
	}
}

// Clear drops all entries.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.persist()
}

func applyHistoryPatch(e *HistoryEntry, patch HistoryPatch) {
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.PromptID != nil && *patch.PromptID != "" {
		e.PromptID = *patch.PromptID
	}
	if patch.Images != nil {
		e.Images = patch.Images
	}
	if patch.Error != nil {
		e.Error = *patch.Error
	}
	if patch.CompletedAt != nil {
		e.CompletedAt = *patch.CompletedAt
	}
}

func (l *Ledger) expired(e HistoryEntry) bool {
	if l.ttl <= 0 {
		return false
	}
	return l.now().Unix()-e.CreatedAt > int64(l.ttl.Seconds())
}

// persist drops expired entries, applies the count bound and writes the
// result back, caller holds the lock. Eviction is by created_at ascending,
// ties broken by insertion order.
func (l *Ledger) persist() {
	kept := make([]HistoryEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if l.expired(e) {
			continue
		}
		kept = append(kept, e)
	}

	if l.maxEntries > 0 && len(kept) > l.maxEntries {
		over := len(kept) - l.maxEntries
		// pick the oldest entries by created_at, stable keeps insertion order
		// among equal timestamps
		idx := make([]int, len(kept))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			return kept[idx[i]].CreatedAt < kept[idx[j]].CreatedAt
		})
		evict := make(map[int]bool, over)
		for _, i := range idx[:over] {
			evict[i] = true
		}
		trimmed := make([]HistoryEntry, 0, l.maxEntries)
		for i, e := range kept {
			if !evict[i] {
				trimmed = append(trimmed, e)
			}
		}
		kept = trimmed
	}

	l.entries = kept

	data, err := json.Marshal(l.entries)
	if err != nil {
		log.Printf("[WARN] can't serialize history: %v", err)
		return
	}
	if err := l.store.Set(historyKey, string(data)); err != nil {
		log.Printf("[WARN] can't persist history: %v", err)
	}
}

// Sweep rewrites the ledger, physically removing anything past the bounds.
// Used by the scheduled maintenance task.
func (l *Ledger) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persist()
}
