// Package session implements the durable job/history lifecycle: registry of
// in-flight jobs, bounded ledger of terminal outcomes, admission control and
// reconciliation of jobs left behind by a previous process life.
package session

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
//
// NOTE: these values are persisted and are part of the stable on-disk contract.
type Status string

// job statuses
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// JobRecord tracks one submitted generation request. ID is assigned locally
// at submission time; PromptID is assigned by the execution server on
// acceptance and is empty until then. Both are immutable once set.
type JobRecord struct {
	ID             string   `json:"id"`
	Status         Status   `json:"status"`
	PositivePrompt string   `json:"positive_prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Seed           int32    `json:"seed"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	PromptID       string   `json:"prompt_id,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	Images         []string `json:"images,omitempty"` // encoded artifacts
	Error          string   `json:"error,omitempty"`

	// restored marks records loaded from the durable store, i.e. left behind
	// by a previous process life. Only restored records are subject to the
	// orphan-drop policy during reconciliation.
	restored bool
}

// JobPatch is a partial update applied by Registry.Update. Nil fields are
// left unchanged.
type JobPatch struct {
	Status   *Status
	PromptID *string
	Images   []string
	Error    *string
}

// NewJobID generates a time-sortable unique job identifier.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 fails only when the entropy source does, fall back to v4
		return uuid.NewString()
	}
	return id.String()
}

// HistoryKey returns the ledger key for a job: prompt_id when the server
// acknowledged it, the local job id otherwise.
func (j JobRecord) HistoryKey() string {
	if j.PromptID != "" {
		return j.PromptID
	}
	return j.ID
}

func (j JobRecord) String() string {
	return fmt.Sprintf("job %s [%s] prompt_id=%q seed=%d", j.ID, j.Status, j.PromptID, j.Seed)
}
