package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyq/app/session"
	"comfyq/app/session/mocks"
)

func TestManager_Initialize(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.Set("comfyq_jobs",
		`[{"id":"j1","status":"running","prompt_id":"p1","created_at":100}]`))

	reg := session.NewRegistry(st)
	history := session.NewLedger(st, 0, 0)
	resolver := &mocks.ResolverMock{
		ResolveFunc: func(ctx context.Context, promptID string) (session.PromptOutcome, error) {
			return session.PromptOutcome{Status: session.StatusSuccess}, nil
		},
	}
	m := &session.Manager{Store: st, Registry: reg, History: history,
		Reconciler: &session.Reconciler{Registry: reg, History: history, Resolver: resolver}}

	assert.Equal(t, session.StageUninitialized, m.Stage())
	assert.Empty(t, m.ClientID())

	m.Initialize(context.Background())

	assert.Equal(t, session.StageReady, m.Stage())
	assert.NotEmpty(t, m.ClientID())
	assert.Empty(t, reg.List(), "leftover running job reconciled away")
	_, ok := history.Find("p1")
	assert.True(t, ok)
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	st := newMemStore()
	reg := session.NewRegistry(st)
	history := session.NewLedger(st, 0, 0)
	resolver := &mocks.ResolverMock{
		ResolveFunc: func(ctx context.Context, promptID string) (session.PromptOutcome, error) {
			return session.PromptOutcome{}, session.ErrStillRunning
		},
	}
	m := &session.Manager{Store: st, Registry: reg, History: history,
		Reconciler: &session.Reconciler{Registry: reg, History: history, Resolver: resolver}}

	m.Initialize(context.Background())
	id := m.ClientID()
	require.NotEmpty(t, id)

	m.Initialize(context.Background())
	assert.Equal(t, id, m.ClientID(), "repeated initialize changes nothing")
	assert.Equal(t, session.StageReady, m.Stage())
}

func TestManager_BrokenStorageDegrades(t *testing.T) {
	st := &mocks.StoreMock{
		GetFunc:    func(name string) (string, bool, error) { return "", false, errors.New("disk gone") },
		SetFunc:    func(name, value string) error { return errors.New("disk gone") },
		RemoveFunc: func(name string) error { return errors.New("disk gone") },
	}
	reg := session.NewRegistry(st)
	history := session.NewLedger(st, 0, 0)
	resolver := &mocks.ResolverMock{
		ResolveFunc: func(ctx context.Context, promptID string) (session.PromptOutcome, error) {
			return session.PromptOutcome{}, nil
		},
	}
	m := &session.Manager{Store: st, Registry: reg, History: history,
		Reconciler: &session.Reconciler{Registry: reg, History: history, Resolver: resolver}}

	m.Initialize(context.Background())

	assert.Equal(t, session.StageReady, m.Stage(), "broken storage never blocks startup")
	assert.NotEmpty(t, m.ClientID())
	assert.Empty(t, reg.List())
	assert.Empty(t, history.Get())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "uninitialized", session.StageUninitialized.String())
	assert.Equal(t, "ready", session.StageReady.String())
	assert.Equal(t, "unknown", session.Stage(42).String())
}
