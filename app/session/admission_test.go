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

func TestAdmission_LocalLimit(t *testing.T) {
	reg := session.NewRegistry(newMemStore())
	require.NoError(t, reg.Add(session.JobRecord{ID: "j1"}))
	require.NoError(t, reg.Add(session.JobRecord{ID: "j2"}))

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 0, nil },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, MaxActive: 2, GlobalMaxActive: 100}

	ok, reason := adm.CanAdmit(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "per-client limit reached")
	assert.Empty(t, counter.ActiveCountCalls(), "local reject never costs a network call")
}

func TestAdmission_UnderLocalLimit(t *testing.T) {
	reg := session.NewRegistry(newMemStore())
	require.NoError(t, reg.Add(session.JobRecord{ID: "j1"}))

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 10, nil },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, MaxActive: 2, GlobalMaxActive: 100}

	ok, reason := adm.CanAdmit(context.Background())
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Len(t, counter.ActiveCountCalls(), 1)
}

func TestAdmission_GlobalLimit(t *testing.T) {
	reg := session.NewRegistry(newMemStore())

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 100, nil },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, MaxActive: 2, GlobalMaxActive: 100}

	ok, reason := adm.CanAdmit(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "system-wide limit reached")
}

func TestAdmission_GlobalCheckDisabled(t *testing.T) {
	reg := session.NewRegistry(newMemStore())

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 1000, nil },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, MaxActive: 2, GlobalMaxActive: 0}

	ok, _ := adm.CanAdmit(context.Background())
	assert.True(t, ok)
	assert.Empty(t, counter.ActiveCountCalls(), "disabled global check never asks the server")
}

func TestAdmission_CounterErrorAdmits(t *testing.T) {
	reg := session.NewRegistry(newMemStore())

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 0, errors.New("server down") },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, MaxActive: 2, GlobalMaxActive: 100}

	ok, reason := adm.CanAdmit(context.Background())
	assert.True(t, ok, "the global ceiling is advisory")
	assert.Empty(t, reason)
}

func TestAdmission_GuardReject(t *testing.T) {
	reg := session.NewRegistry(newMemStore())

	counter := &mocks.GlobalCounterMock{
		ActiveCountFunc: func(ctx context.Context) (int, error) { return 0, nil },
	}
	guard := &mocks.GuardMock{
		CheckFunc: func() (bool, string) { return false, "cpu overloaded" },
	}
	adm := &session.Admission{Registry: reg, Counter: counter, Guard: guard,
		MaxActive: 2, GlobalMaxActive: 100}

	ok, reason := adm.CanAdmit(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "cpu overloaded")
	assert.Empty(t, counter.ActiveCountCalls(), "guard reject happens before any network call")
}
