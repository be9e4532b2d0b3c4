package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyq/app/session"
)

func TestLedger_AppendAndGet(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 0)

	l.Append(session.HistoryEntry{Key: "p1", JobID: "j1", Status: session.StatusSuccess, CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "p2", JobID: "j2", Status: session.StatusFailed, CreatedAt: 200})

	entries := l.Get()
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].Key, "insertion order, most recent last")
	assert.Equal(t, "p2", entries[1].Key)
}

func TestLedger_UpsertMergesInPlace(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 0)
	l.Append(session.HistoryEntry{Key: "p1", JobID: "j1", Status: session.StatusRunning, CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "p2", JobID: "j2", Status: session.StatusSuccess, CreatedAt: 200})

	success := session.StatusSuccess
	completed := int64(300)
	l.Upsert("p1", session.HistoryEntry{}, session.HistoryPatch{
		Status:      &success,
		Images:      []string{"img-data"},
		CompletedAt: &completed,
	})

	entries := l.Get()
	require.Len(t, entries, 2, "upsert of an existing key never duplicates")
	assert.Equal(t, "p1", entries[0].Key, "position preserved")
	assert.Equal(t, session.StatusSuccess, entries[0].Status)
	assert.Equal(t, []string{"img-data"}, entries[0].Images)
	assert.Equal(t, int64(300), entries[0].CompletedAt)
	assert.Equal(t, "j1", entries[0].JobID, "unpatched fields untouched")
}

func TestLedger_UpsertAppendsMissingKey(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 0)

	failed := session.StatusFailed
	errMsg := "boom"
	l.Upsert("p1", session.HistoryEntry{JobID: "j1", CreatedAt: 100}, session.HistoryPatch{
		Status: &failed,
		Error:  &errMsg,
	})

	e, ok := l.Find("p1")
	require.True(t, ok)
	assert.Equal(t, "j1", e.JobID)
	assert.Equal(t, session.StatusFailed, e.Status)
	assert.Equal(t, "boom", e.Error)
}

func TestLedger_TTL(t *testing.T) {
	now := time.Unix(10_000, 0)
	l := session.NewLedger(newMemStore(), time.Hour, 0)
	l.SetNow(func() time.Time { return now })

	ttl := int64(3600)
	l.Append(session.HistoryEntry{Key: "exact", CreatedAt: now.Unix() - ttl}) // exactly at the boundary
	l.Append(session.HistoryEntry{Key: "stale", CreatedAt: now.Unix() - ttl - 1})
	l.Append(session.HistoryEntry{Key: "fresh", CreatedAt: now.Unix()})

	entries := l.Get()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"exact", "fresh"}, keys, "strictly older than ttl is expired, exactly at ttl is not")

	_, ok := l.Find("stale")
	assert.False(t, ok)
}

func TestLedger_SweepDropsExpired(t *testing.T) {
	st := newMemStore()
	now := time.Unix(10_000, 0)
	l := session.NewLedger(st, time.Hour, 0)
	l.SetNow(func() time.Time { return now })

	l.Append(session.HistoryEntry{Key: "stale", CreatedAt: now.Unix() - 7200})
	l.Append(session.HistoryEntry{Key: "fresh", CreatedAt: now.Unix()})
	l.Sweep()

	// a reload sees only what survived the sweep
	l2 := session.NewLedger(st, time.Hour, 0)
	l2.SetNow(func() time.Time { return now })
	l2.Load()
	entries := l2.Get()
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].Key)
}

func TestLedger_CountBound(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 2)

	l.Append(session.HistoryEntry{Key: "oldest", CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "middle", CreatedAt: 200})
	l.Append(session.HistoryEntry{Key: "newest", CreatedAt: 300})

	entries := l.Get()
	require.Len(t, entries, 2)
	assert.Equal(t, "middle", entries[0].Key, "oldest by created_at is evicted first")
	assert.Equal(t, "newest", entries[1].Key)
}

func TestLedger_CountBoundTieBreak(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 2)

	// equal timestamps, insertion order decides
	l.Append(session.HistoryEntry{Key: "a", CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "b", CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "c", CreatedAt: 100})

	entries := l.Get()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Key)
	assert.Equal(t, "c", entries[1].Key)
}

func TestLedger_DeleteAndClear(t *testing.T) {
	l := session.NewLedger(newMemStore(), 0, 0)
	l.Append(session.HistoryEntry{Key: "p1", CreatedAt: 100})
	l.Append(session.HistoryEntry{Key: "p2", CreatedAt: 200})

	l.Delete("p1")
	l.Delete("p1") // repeated delete is a no-op
	l.Delete("nope")
	require.Len(t, l.Get(), 1)

	l.Clear()
	assert.Empty(t, l.Get())
}

func TestLedger_PersistsAcrossLoad(t *testing.T) {
	st := newMemStore()

	l := session.NewLedger(st, 0, 0)
	l.Append(session.HistoryEntry{Key: "p1", JobID: "j1", Status: session.StatusSuccess,
		PositivePrompt: "a cat", Seed: 42, Images: []string{"img"}, CreatedAt: 100, CompletedAt: 150})

	l2 := session.NewLedger(st, 0, 0)
	l2.Load()
	e, ok := l2.Find("p1")
	require.True(t, ok)
	assert.Equal(t, "a cat", e.PositivePrompt)
	assert.Equal(t, int32(42), e.Seed)
	assert.Equal(t, []string{"img"}, e.Images)
	assert.Equal(t, int64(150), e.CompletedAt)
}

func TestLedger_LoadDegradesToEmpty(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.Set("comfyq_history", "{broken"))
	l := session.NewLedger(st, 0, 0)
	l.Load()
	assert.Empty(t, l.Get())
}
