package session

import (
	"encoding/json"
	"errors"
	"sync"

	log "github.com/go-pkgz/lgr"
)

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store

// Store is the durable string-keyed map the session state survives in.
// Implementations keep values across process restarts; write failures are
// tolerated by callers (best-effort persistence).
type Store interface {
	Get(name string) (value string, ok bool, err error)
	Set(name, value string) error
	Remove(name string) error
}

// ErrDuplicateJob returned by Registry.Add when the id is already present.
var ErrDuplicateJob = errors.New("duplicate job id")

const registryKey = "comfyq_jobs"

// Registry holds the in-memory working copy of active job records and writes
// the whole set back to the durable store on every mutation, so storage is
// always consistent with the last completed operation.
type Registry struct {
	store Store

	mu   sync.Mutex
	jobs []JobRecord // insertion ordered
}

// NewRegistry makes an empty registry over the given store. Call Load to
// pick up records persisted by a previous process life.
func NewRegistry(st Store) *Registry {
	return &Registry{store: st}
}

// Load replaces the in-memory set with whatever the store holds. Unreadable
// or malformed state degrades to an empty registry.
func (r *Registry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = nil
	raw, ok, err := r.store.Get(registryKey)
	if err != nil {
		log.Printf("[WARN] can't read job registry, starting empty: %v", err)
		return
	}
	if !ok {
		return
	}

	var jobs []JobRecord
	if err := json.Unmarshal([]byte(raw), &jobs); err != nil {
		log.Printf("[WARN] malformed job registry, starting empty: %v", err)
		return
	}
	for i := range jobs {
		jobs[i].restored = true
	}
	r.jobs = jobs
	log.Printf("[DEBUG] loaded %d job(s) from store", len(jobs))
}

// Add inserts a new record with status forced to queued. Rejects an id
// already present.
func (r *Registry) Add(job JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.ID == job.ID {
			return ErrDuplicateJob
		}
	}
	job.Status = StatusQueued
	job.restored = false
	r.jobs = append(r.jobs, job)
	r.persist()
	return nil
}

// Update applies a partial update to the record with the given id. A missing
// id is a no-op so an update never resurrects a removed job. PromptID, once
// set, is never overwritten.
func (r *Registry) Update(id string, patch JobPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.jobs {
		if r.jobs[i].ID != id {
			continue
		}
		if patch.Status != nil {
			r.jobs[i].Status = *patch.Status
		}
		if patch.PromptID != nil {
			if r.jobs[i].PromptID == "" {
				r.jobs[i].PromptID = *patch.PromptID
			} else if r.jobs[i].PromptID != *patch.PromptID {
				log.Printf("[WARN] ignored prompt_id change for job %s: %q -> %q",
					id, r.jobs[i].PromptID, *patch.PromptID)
			}
		}
		if patch.Images != nil {
			r.jobs[i].Images = patch.Images
		}
		if patch.Error != nil {
			r.jobs[i].Error = *patch.Error
		}
		r.persist()
		return
	}
}

// Remove deletes the record with the given id, removing an absent id is not
// an error.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.jobs {
		if r.jobs[i].ID == id {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			r.persist()
			return
		}
	}
}

// List returns a copy of all current records in insertion order.
func (r *Registry) List() []JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]JobRecord, len(r.jobs))
	copy(res, r.jobs)
	return res
}

// Get returns the record with the given id.
func (r *Registry) Get(id string) (JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobRecord{}, false
}

// ActiveCount counts queued and running records, the local admission input.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, j := range r.jobs {
		if j.Status == StatusQueued || j.Status == StatusRunning {
			count++
		}
	}
	return count
}

// persist writes the whole registry back, caller holds the lock. A failed
// write is logged and swallowed, in-memory state stays authoritative for the
// rest of this process life.
func (r *Registry) persist() {
	data, err := json.Marshal(r.jobs)
	if err != nil {
		log.Printf("[WARN] can't serialize job registry: %v", err)
		return
	}
	if err := r.store.Set(registryKey, string(data)); err != nil {
		log.Printf("[WARN] can't persist job registry: %v", err)
	}
}
