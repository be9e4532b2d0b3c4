package runner

import (
	"context"
	"errors"

	"comfyq/app/comfy"
	"comfyq/app/session"
)

// Resolver adapts the execution server client to the reconciliation
// contract, translating the client error taxonomy into reconciliation
// outcomes.
type Resolver struct {
	Client Generator
}

// Resolve fetches the state of a previously accepted prompt in fast mode, a
// single history fetch per reconciliation pass.
func (r *Resolver) Resolve(ctx context.Context, promptID string) (session.PromptOutcome, error) {
	res, err := r.Client.FetchResult(ctx, promptID, true)

	switch {
	case err == nil:
		return session.PromptOutcome{Status: session.StatusSuccess, Images: encodeImages(res.Images)}, nil

	case errors.Is(err, comfy.ErrExecutionFailed):
		// the server ran it and it failed, a definitive outcome
		return session.PromptOutcome{Status: session.StatusFailed, Error: err.Error()}, nil

	case errors.Is(err, comfy.ErrNotReady):
		return session.PromptOutcome{}, session.ErrStillRunning

	case errors.Is(err, comfy.ErrUnknownPrompt):
		return session.PromptOutcome{}, session.ErrUnknownPrompt

	default:
		return session.PromptOutcome{}, err // transient, retried next pass
	}
}
