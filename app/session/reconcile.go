package session

import (
	"context"
	"errors"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
)

//go:generate moq -out mocks/resolver.go -pkg mocks -skip-ensure -fmt goimports . Resolver

// reconciliation outcomes a Resolver can signal
var (
	// ErrStillRunning means the job is legitimately in progress, leave it be
	ErrStillRunning = errors.New("prompt still running")
	// ErrUnknownPrompt means the server has no record of the prompt_id
	ErrUnknownPrompt = errors.New("prompt unknown to server")
)

// PromptOutcome is the resolved terminal state of a prompt on the execution
// server. Images carry encoded artifacts.
type PromptOutcome struct {
	Status Status // StatusSuccess or StatusFailed
	Images []string
	Error  string
}

// Resolver queries the execution server for the state of a previously
// accepted prompt. It returns ErrStillRunning or a transient error to leave
// the record untouched, ErrUnknownPrompt for a definitive "never heard of
// it", or the terminal outcome.
type Resolver interface {
	Resolve(ctx context.Context, promptID string) (PromptOutcome, error)
}

// Reconciler resolves jobs left in flight by a previous process life: jobs
// with a server handle get their outcome fetched and moved to history, jobs
// that never got a prompt_id are unrecoverable and dropped. Running it twice
// in a row produces no further change the second time.
type Reconciler struct {
	Registry    *Registry
	History     *Ledger
	Resolver    Resolver
	Concurrency int             // parallel status queries, 0 means 1
	Now         func() int64    // unix seconds, defaults to wall clock
	OnTerminal  func(JobRecord) // optional, called after a job reaches history
}

// Run performs one reconciliation pass over the registry.
func (r *Reconciler) Run(ctx context.Context) {
	jobs := r.Registry.List()

	var resolve []JobRecord
	for _, job := range jobs {
		if job.Status.Terminal() {
			// a crash between the history write and the registry removal can
			// leave a terminal record behind, finish the move
			r.moveToHistory(job)
			continue
		}

		if job.PromptID == "" {
			// never acknowledged by the server, nothing to resume from - but
			// only drop what a previous process life left behind, a freshly
			// queued job may simply not have been submitted yet
			if job.restored {
				log.Printf("[INFO] dropping orphaned %s", job)
				r.Registry.Remove(job.ID)
			}
			continue
		}

		if job.Status == StatusRunning {
			resolve = append(resolve, job)
		}
	}

	if len(resolve) == 0 {
		return
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	gr := syncs.NewSizedGroup(concurrency)
	for _, job := range resolve {
		job := job
		gr.Go(func(gctx context.Context) {
			r.resolveJob(gctx, job)
		})
	}
	gr.Wait()
}

func (r *Reconciler) resolveJob(ctx context.Context, job JobRecord) {
	outcome, err := r.Resolver.Resolve(ctx, job.PromptID)

	switch {
	case err == nil:
		job.Status = outcome.Status
		job.Images = outcome.Images
		job.Error = outcome.Error
		log.Printf("[INFO] reconciled %s", job)
		r.moveToHistory(job)

	case errors.Is(err, ErrUnknownPrompt):
		job.Status = StatusFailed
		job.Error = "job lost: execution server has no record of prompt " + job.PromptID
		log.Printf("[INFO] reconciled %s as lost", job)
		r.moveToHistory(job)

	case errors.Is(err, ErrStillRunning):
		log.Printf("[DEBUG] %s still in progress, leaving as is", job)

	default:
		// transient, leave the record running and retry next pass
		log.Printf("[WARN] can't resolve %s, will retry: %v", job, err)
	}
}

// moveToHistory upserts the terminal snapshot and removes the registry
// record, terminal jobs live only in the ledger.
func (r *Reconciler) moveToHistory(job JobRecord) {
	now := r.now()
	status := job.Status
	errMsg := job.Error
	r.History.Upsert(job.HistoryKey(), HistoryEntry{
		JobID:          job.ID,
		PromptID:       job.PromptID,
		Status:         job.Status,
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		Seed:           job.Seed,
		Width:          job.Width,
		Height:         job.Height,
		CreatedAt:      job.CreatedAt,
	}, HistoryPatch{
		Status:      &status,
		Images:      job.Images,
		Error:       &errMsg,
		CompletedAt: &now,
	})
	r.Registry.Remove(job.ID)

	if r.OnTerminal != nil {
		r.OnTerminal(job)
	}
}

func (r *Reconciler) now() int64 {
	if r.Now != nil {
		return r.Now()
	}
	return timeNow()
}
