// Package runner drives the submission flow: admission, job creation,
// workflow rendering, prompt execution and the final move of the outcome to
// history.
package runner

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"comfyq/app/comfy"
	"comfyq/app/session"
	"comfyq/app/store"
	"comfyq/app/workflow"
)

//go:generate moq -out mocks/generator.go -pkg mocks -skip-ensure -fmt goimports . Generator
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier

// Generator executes rendered workflows on the execution server.
type Generator interface {
	Generate(ctx context.Context, wf map[string]any, onPromptID func(string)) (comfy.GenerationResult, error)
	FetchResult(ctx context.Context, promptID string, fast bool) (comfy.GenerationResult, error)
}

// Notifier defines notification delivery on settled jobs.
type Notifier interface {
	Send(ctx context.Context, subj, text string) error
	IsOnError() bool
	IsOnCompletion() bool
	MakeErrorHTML(jobID, prompt, errorLog string) (string, error)
	MakeCompletionHTML(jobID, prompt string) (string, error)
}

// errors returned by Submit, callers branch on these
var (
	// ErrNotAdmitted means a concurrency ceiling rejected the request, the
	// wrapped text carries the user-presentable reason
	ErrNotAdmitted = errors.New("not admitted")
	// ErrInvalidRequest means the request itself is malformed, resubmitting
	// it unchanged won't help
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is one generation ask. A negative seed requests a random one.
type Request struct {
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Seed           int64  `json:"seed"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// Runner owns the submission pipeline. Terminal outcomes always land in
// History and leave Registry, never the other way around.
type Runner struct {
	Registry  *session.Registry
	History   *session.Ledger
	Admission *session.Admission
	Client    Generator
	Workflow  *workflow.Template
	Notifier  Notifier     // optional
	Now       func() int64 // unix seconds, defaults to wall clock
}

// Submit validates admission, registers a queued job and starts its
// execution in the background. The returned record is the queued snapshot,
// completion is observed through the registry and history.
func (r *Runner) Submit(ctx context.Context, req Request) (session.JobRecord, error) {
	if ok, reason := r.Admission.CanAdmit(ctx); !ok {
		return session.JobRecord{}, fmt.Errorf("%w: %s", ErrNotAdmitted, reason)
	}

	seed := req.Seed
	if seed < 0 {
		seed = randomSeed()
	}
	if seed > int64(^uint32(0)>>1) {
		return session.JobRecord{}, fmt.Errorf("%w: seed %d out of range", ErrInvalidRequest, req.Seed)
	}

	job := session.JobRecord{
		ID:             session.NewJobID(),
		PositivePrompt: req.PositivePrompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           int32(seed),
		Width:          req.Width,
		Height:         req.Height,
		CreatedAt:      r.now(),
	}
	if err := r.Registry.Add(job); err != nil {
		return session.JobRecord{}, fmt.Errorf("can't register job: %w", err)
	}
	log.Printf("[INFO] accepted %s", job)

	// execution outlives the submitting request
	go r.execute(context.WithoutCancel(ctx), job)

	res, _ := r.Registry.Get(job.ID)
	return res, nil
}

// execute renders the workflow, runs it and settles the outcome.
func (r *Runner) execute(ctx context.Context, job session.JobRecord) {
	rendered, err := r.Workflow.Render(workflow.Inputs{
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		Seed:           job.Seed,
		Width:          job.Width,
		Height:         job.Height,
	})
	if err != nil {
		r.fail(ctx, job, fmt.Sprintf("can't render workflow: %v", err))
		return
	}

	onPromptID := func(promptID string) {
		running := session.StatusRunning
		r.Registry.Update(job.ID, session.JobPatch{Status: &running, PromptID: &promptID})
		job.PromptID = promptID
		log.Printf("[INFO] job %s running as prompt %s", job.ID, promptID)
	}

	res, err := r.Client.Generate(ctx, rendered, onPromptID)
	if err != nil {
		r.settleFailure(ctx, job, err)
		return
	}

	job.Status = session.StatusSuccess
	job.Images = encodeImages(res.Images)
	r.finish(ctx, job)
}

// settleFailure decides what a failed execution leaves behind. A definitive
// rejection or execution error becomes a failed history entry. Without a
// prompt id there is nothing to reconcile later, the record is dropped. With
// one the record stays running for the reconciler to resolve.
func (r *Runner) settleFailure(ctx context.Context, job session.JobRecord, execErr error) {
	// the callback may have set the prompt id, trust the registry
	if current, ok := r.Registry.Get(job.ID); ok {
		job = current
	}

	switch {
	case errors.Is(execErr, comfy.ErrRejected) || errors.Is(execErr, comfy.ErrExecutionFailed):
		r.fail(ctx, job, execErr.Error())

	case job.PromptID == "":
		log.Printf("[WARN] %s failed before the server acknowledged it, dropping: %v", job, execErr)
		r.Registry.Remove(job.ID)

	default:
		log.Printf("[WARN] lost track of %s, reconciliation will settle it: %v", job, execErr)
	}
}

// fail moves the job to history as failed.
func (r *Runner) fail(ctx context.Context, job session.JobRecord, reason string) {
	log.Printf("[WARN] %s failed: %s", job, reason)
	job.Status = session.StatusFailed
	job.Error = reason
	r.finish(ctx, job)
}

// finish writes the terminal snapshot to history first and removes the
// registry record after, a crash in between is healed by reconciliation.
func (r *Runner) finish(ctx context.Context, job session.JobRecord) {
	completed := r.now()
	status := job.Status
	errMsg := job.Error
	r.History.Upsert(job.HistoryKey(), session.HistoryEntry{
		JobID:          job.ID,
		PromptID:       job.PromptID,
		Status:         job.Status,
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		Seed:           job.Seed,
		Width:          job.Width,
		Height:         job.Height,
		CreatedAt:      job.CreatedAt,
	}, session.HistoryPatch{
		Status:      &status,
		Images:      job.Images,
		Error:       &errMsg,
		CompletedAt: &completed,
	})
	r.Registry.Remove(job.ID)
	log.Printf("[INFO] settled %s", job)
	r.notify(ctx, job)
}

// RestoreArtifacts re-fetches images for a history entry that lost them,
// possible only when the server acknowledged the job.
func (r *Runner) RestoreArtifacts(ctx context.Context, key string) (session.HistoryEntry, error) {
	entry, ok := r.History.Find(key)
	if !ok {
		return session.HistoryEntry{}, fmt.Errorf("no history entry %s", key)
	}
	if entry.PromptID == "" {
		return session.HistoryEntry{}, fmt.Errorf("entry %s was never acknowledged by the server", key)
	}
	if len(entry.Images) > 0 {
		return entry, nil
	}

	res, err := r.Client.FetchResult(ctx, entry.PromptID, true)
	if err != nil {
		return session.HistoryEntry{}, fmt.Errorf("can't restore artifacts for %s: %w", key, err)
	}

	images := encodeImages(res.Images)
	r.History.Upsert(key, entry, session.HistoryPatch{Images: images})
	entry.Images = images
	log.Printf("[INFO] restored %d artifact(s) for history entry %s", len(images), key)
	return entry, nil
}

func (r *Runner) notify(ctx context.Context, job session.JobRecord) {
	if r.Notifier == nil {
		return
	}

	switch {
	case job.Status == session.StatusFailed && r.Notifier.IsOnError():
		msg, err := r.Notifier.MakeErrorHTML(job.ID, job.PositivePrompt, job.Error)
		if err != nil {
			log.Printf("[WARN] can't make error notification for %s: %v", job.ID, err)
			return
		}
		if err := r.Notifier.Send(ctx, fmt.Sprintf("failed generation %s", job.ID), msg); err != nil {
			log.Printf("[WARN] can't send error notification for %s: %v", job.ID, err)
		}

	case job.Status == session.StatusSuccess && r.Notifier.IsOnCompletion():
		msg, err := r.Notifier.MakeCompletionHTML(job.ID, job.PositivePrompt)
		if err != nil {
			log.Printf("[WARN] can't make completion notification for %s: %v", job.ID, err)
			return
		}
		if err := r.Notifier.Send(ctx, fmt.Sprintf("completed generation %s", job.ID), msg); err != nil {
			log.Printf("[WARN] can't send completion notification for %s: %v", job.ID, err)
		}
	}
}

func (r *Runner) now() int64 {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().Unix()
}

func encodeImages(images []comfy.ImageResult) []string {
	res := make([]string, len(images))
	for i, img := range images {
		res[i] = store.EncodeArtifact(img.Data)
	}
	return res
}

// randomSeed returns a non-negative 31 bit seed, the range samplers accept.
func randomSeed() int64 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() & 0x7fffffff
	}
	return int64(binary.BigEndian.Uint32(buf[:]) & 0x7fffffff)
}
