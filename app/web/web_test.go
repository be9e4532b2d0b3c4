package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"comfyq/app/presets"
	"comfyq/app/runner"
	"comfyq/app/session"
	smocks "comfyq/app/session/mocks"
	"comfyq/app/web/mocks"
)

func newMemStore() *smocks.StoreMock {
	var mu sync.Mutex
	data := map[string]string{}
	return &smocks.StoreMock{
		GetFunc: func(name string) (string, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			v, ok := data[name]
			return v, ok, nil
		},
		SetFunc: func(name, value string) error {
			mu.Lock()
			defer mu.Unlock()
			data[name] = value
			return nil
		},
		RemoveFunc: func(name string) error {
			mu.Lock()
			defer mu.Unlock()
			delete(data, name)
			return nil
		},
	}
}

func newTestServer(t *testing.T, submitter Submitter) *Server {
	t.Helper()

	library, err := presets.Load("")
	require.NoError(t, err)

	srv, err := New(Config{
		Submitter: submitter,
		Registry:  session.NewRegistry(newMemStore()),
		History:   session.NewLedger(newMemStore(), 0, 0),
		Info: &mocks.SessionInfoMock{
			StageFunc:    func() session.Stage { return session.StageReady },
			ClientIDFunc: func() string { return "client-1" },
		},
		Library:   library,
		Version:   "test",
		SubmitRPS: 100, // keep the limiter out of the way
		MaxActive: 2,
	})
	require.NoError(t, err)
	return srv
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Submitter is required")

	_, err = New(Config{Submitter: &mocks.SubmitterMock{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Registry and History are required")
}

func TestServer_handleGenerate(t *testing.T) {
	submitter := &mocks.SubmitterMock{
		SubmitFunc: func(_ context.Context, req runner.Request) (session.JobRecord, error) {
			return session.JobRecord{ID: "j1", Status: session.StatusQueued,
				PositivePrompt: req.PositivePrompt, NegativePrompt: req.NegativePrompt,
				Width: req.Width, Height: req.Height, CreatedAt: 1000}, nil
		},
	}
	srv := newTestServer(t, submitter)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	t.Run("accepted with defaults", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`{"positive_prompt":"a cat"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var job APIJob
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
		assert.Equal(t, "j1", job.ID)
		assert.Equal(t, "queued", job.Status)

		calls := submitter.SubmitCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "a cat", calls[0].Req.PositivePrompt)
		assert.Equal(t, int64(-1), calls[0].Req.Seed) // random
		assert.Equal(t, 512, calls[0].Req.Width)
		assert.Equal(t, 512, calls[0].Req.Height)
	})

	t.Run("explicit seed and size", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`{"positive_prompt":"a cat","seed":42,"width":640,"height":768}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		calls := submitter.SubmitCalls()
		last := calls[len(calls)-1]
		assert.Equal(t, int64(42), last.Req.Seed)
		assert.Equal(t, 640, last.Req.Width)
		assert.Equal(t, 768, last.Req.Height)
	})

	t.Run("preset fills negative prompt", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`{"positive_prompt":"a cat","preset":"standard"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		calls := submitter.SubmitCalls()
		assert.NotEmpty(t, calls[len(calls)-1].Req.NegativePrompt)
	})

	t.Run("unknown preset rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`{"positive_prompt":"a cat","preset":"nope"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing positive prompt rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`{"negative_prompt":"blurry"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("broken body rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
			bytes.NewBufferString(`not json`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_handleGenerateNotAdmitted(t *testing.T) {
	submitter := &mocks.SubmitterMock{
		SubmitFunc: func(context.Context, runner.Request) (session.JobRecord, error) {
			return session.JobRecord{}, fmt.Errorf("%w: local limit reached", runner.ErrNotAdmitted)
		},
	}
	srv := newTestServer(t, submitter)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		bytes.NewBufferString(`{"positive_prompt":"a cat"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "local limit reached")
}

func TestServer_handleGenerateInvalidRequest(t *testing.T) {
	submitter := &mocks.SubmitterMock{
		SubmitFunc: func(context.Context, runner.Request) (session.JobRecord, error) {
			return session.JobRecord{}, fmt.Errorf("%w: seed 9999999999 out of range", runner.ErrInvalidRequest)
		},
	}
	srv := newTestServer(t, submitter)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		bytes.NewBufferString(`{"positive_prompt":"a cat","seed":9999999999}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "out of range")
}

func TestServer_handleJobs(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	require.NoError(t, srv.registry.Add(session.JobRecord{ID: "j1", PositivePrompt: "a cat", CreatedAt: 10}))
	require.NoError(t, srv.registry.Add(session.JobRecord{ID: "j2", PositivePrompt: "a dog", CreatedAt: 20}))

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body APIJobsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, "queued", body.Jobs[0].Status)
}

func TestServer_handleStatus(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	srv.counter = &smocks.GlobalCounterMock{
		ActiveCountFunc: func(context.Context) (int, error) { return 7, nil },
	}
	srv.globalMaxActive = 100
	require.NoError(t, srv.registry.Add(session.JobRecord{ID: "j1", PositivePrompt: "a cat"}))

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body APIStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ready", body.Stage)
	assert.Equal(t, "client-1", body.ClientID)
	assert.Equal(t, 1, body.Active)
	assert.Equal(t, 2, body.MaxActive)
	require.NotNil(t, body.GlobalActive)
	assert.Equal(t, 7, *body.GlobalActive)
	assert.Equal(t, 100, body.GlobalMaxActive)
}

func TestServer_handleStatusCounterFailure(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	srv.counter = &smocks.GlobalCounterMock{
		ActiveCountFunc: func(context.Context) (int, error) { return 0, fmt.Errorf("server down") },
	}
	srv.globalMaxActive = 100

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body APIStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Nil(t, body.GlobalActive) // unknown, not zero
}

func TestServer_handleHistory(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	srv.history.Append(session.HistoryEntry{Key: "p1", JobID: "j1", Status: session.StatusSuccess,
		PositivePrompt: "a cat", Images: []string{"data:image/png;base64,xxx"}, CreatedAt: 10})
	srv.history.Append(session.HistoryEntry{Key: "p2", JobID: "j2", Status: session.StatusFailed,
		PositivePrompt: "a dog", Error: "boom", CreatedAt: 20})

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	t.Run("list most recent first without images", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body APIHistoryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, 2, body.Count)
		assert.Equal(t, "p2", body.Entries[0].Key)
		assert.Equal(t, "p1", body.Entries[1].Key)
		assert.Empty(t, body.Entries[1].Images)
		assert.Equal(t, 1, body.Entries[1].ImageCount)
	})

	t.Run("single entry includes images", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history/p1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var entry APIHistoryEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		assert.Equal(t, []string{"data:image/png;base64,xxx"}, entry.Images)
	})

	t.Run("unknown entry", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/history/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete entry", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/history/p2", http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		_, ok := srv.history.Find("p2")
		assert.False(t, ok)
	})

	t.Run("delete unknown entry", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/history/nope", http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("clear all", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/history", http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, srv.history.Get())
	})
}

func TestServer_handleHistoryRestore(t *testing.T) {
	submitter := &mocks.SubmitterMock{
		RestoreArtifactsFunc: func(_ context.Context, key string) (session.HistoryEntry, error) {
			if key == "p-err" {
				return session.HistoryEntry{}, fmt.Errorf("execution server unavailable")
			}
			return session.HistoryEntry{Key: key, Status: session.StatusSuccess,
				Images: []string{"data:image/png;base64,yyy"}}, nil
		},
	}
	srv := newTestServer(t, submitter)
	srv.history.Append(session.HistoryEntry{Key: "p1", Status: session.StatusSuccess, CreatedAt: 10})
	srv.history.Append(session.HistoryEntry{Key: "p-err", Status: session.StatusSuccess, CreatedAt: 20})

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	t.Run("restored", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/history/p1/restore", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var entry APIHistoryEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		assert.Equal(t, []string{"data:image/png;base64,yyy"}, entry.Images)
	})

	t.Run("unknown entry", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/history/nope/restore", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Empty(t, submitter.RestoreArtifactsCalls())
	})

	t.Run("fetch failure", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/history/p-err/restore", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestServer_handleTags(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	t.Run("search", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/tags?q=hair&limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body APITagsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Tags)
		assert.LessOrEqual(t, body.Count, 5)
		for _, tag := range body.Tags {
			assert.Contains(t, tag.Name, "hair")
		}
	})

	t.Run("empty query returns popular", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/tags")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body APITagsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Tags)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/tags?limit=abc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_handlePresets(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/presets")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body APIPresetsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	names := make([]string, 0, len(body.Presets))
	for _, p := range body.Presets {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "standard")
}

func TestServer_authMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := newTestServer(t, &mocks.SubmitterMock{})
	srv.passwordHash = string(hash)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	t.Run("no credentials", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	})

	t.Run("valid credentials", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", http.NoBody)
		require.NoError(t, err)
		req.SetBasicAuth("comfyq", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("wrong password", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", http.NoBody)
		require.NoError(t, err)
		req.SetBasicAuth("comfyq", "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ping bypasses auth", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/ping")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_Run(t *testing.T) {
	srv := newTestServer(t, &mocks.SubmitterMock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	cancel()
	err := <-done
	assert.NoError(t, err)
}
