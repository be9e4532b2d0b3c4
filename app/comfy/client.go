// Package comfy implements the HTTP and websocket client for a ComfyUI
// compatible execution server: prompt submission, history and artifact
// retrieval, and the global queue counter.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
)

//go:generate moq -out mocks/repeater.go -pkg mocks -skip-ensure -fmt goimports . Repeater

// Repeater retries a failed function, the listed errors stop retries
// immediately.
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) error
}

// client-visible error taxonomy, callers branch on these
var (
	// ErrRejected means the server definitively refused the submission,
	// retrying the same payload won't help
	ErrRejected = errors.New("submission rejected")
	// ErrNotReady means the history for the prompt has no outputs yet
	ErrNotReady = errors.New("history not ready")
	// ErrUnknownPrompt means the server has no record of the prompt id
	ErrUnknownPrompt = errors.New("prompt unknown to server")
	// ErrExecutionFailed means the server ran the prompt and it failed
	ErrExecutionFailed = errors.New("execution failed")
)

// ImageResult is one downloaded artifact.
type ImageResult struct {
	FileName  string
	Subfolder string
	MimeType  string
	Data      []byte
}

// GenerationResult is the final outcome of a prompt: the server handle and
// all artifacts it produced.
type GenerationResult struct {
	PromptID string
	Images   []ImageResult
}

// imageRef is the artifact descriptor inside a history entry.
type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// historyEntry is the per-prompt record returned by /history.
type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Errors json.RawMessage `json:"errors"`
	Error  json.RawMessage `json:"error"`
}

func (h historyEntry) hasImages() bool {
	for _, node := range h.Outputs {
		if len(node.Images) > 0 {
			return true
		}
	}
	return false
}

// failure returns the error payload if the server reported one.
func (h historyEntry) failure() (string, bool) {
	if detail := rawDetail(h.Errors); detail != "" {
		return detail, true
	}
	if detail := rawDetail(h.Error); detail != "" {
		return detail, true
	}
	if h.Status.StatusStr == "error" {
		return "status error", true
	}
	return "", false
}

// rawDetail renders a non-empty json payload as a short string.
func rawDetail(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "{}" || s == "[]" || s == `""` {
		return ""
	}
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// redactedError rewrites the message of the wrapped error while keeping the
// chain intact for errors.Is checks.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redact strips the server addresses from the error text. Transport errors
// embed the full request URL and those messages end up in user-facing
// responses and history records.
func (c *Client) redact(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := msg
	if c.baseURL != "" {
		clean = strings.ReplaceAll(clean, c.baseURL, "server")
	}
	if c.wsURL != "" {
		clean = strings.ReplaceAll(clean, c.wsURL, "server")
	}
	if clean == msg {
		return err
	}
	return &redactedError{msg: clean, err: err}
}

// Client talks to one execution server on behalf of one client identity.
type Client struct {
	baseURL  string
	wsURL    string
	clientID string
	timeout  time.Duration
	client   *http.Client
	repeater Repeater
}

// New makes a client for the given server. The repeater guards transient
// failures of the submission call only, polling does its own pacing.
func New(baseURL, wsURL, clientID string, timeout time.Duration, rptr Repeater) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		wsURL:    strings.TrimSuffix(wsURL, "/"),
		clientID: clientID,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		repeater: rptr,
	}
}

// Submit queues the rendered workflow and returns the server-assigned
// prompt id. Transient failures are retried, an ErrRejected response is
// final. No prompt id is ever returned together with an error.
func (c *Client) Submit(ctx context.Context, workflow map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": workflow, "client_id": c.clientID})
	if err != nil {
		return "", fmt.Errorf("can't serialize workflow: %w", err)
	}

	var promptID string
	submit := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("can't make submit request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("submit call failed: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
			if resp.StatusCode < 500 {
				return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(detail))
			}
			return fmt.Errorf("submit failed with status %d: %s", resp.StatusCode, string(detail))
		}

		var data struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return fmt.Errorf("can't parse submit response: %w", err)
		}
		if data.PromptID == "" {
			return fmt.Errorf("submit response has no prompt_id")
		}
		promptID = data.PromptID
		return nil
	}

	if err := c.repeater.Do(ctx, submit, ErrRejected); err != nil {
		return "", c.redact(err)
	}
	log.Printf("[DEBUG] submitted prompt %s", promptID)
	return promptID, nil
}

// Generate submits the workflow and waits for completion, reporting the
// server handle through onPromptID as soon as it is known. The wait races a
// websocket completion event against history polling, polling alone is
// sufficient when the socket is unavailable.
func (c *Client) Generate(ctx context.Context, workflow map[string]any, onPromptID func(string)) (GenerationResult, error) {
	promptID, err := c.Submit(ctx, workflow)
	if err != nil {
		return GenerationResult{}, err
	}
	if onPromptID != nil {
		onPromptID(promptID)
	}

	entry, err := c.awaitOutputs(ctx, promptID)
	if err != nil {
		return GenerationResult{}, c.redact(err)
	}
	images, err := c.downloadImages(ctx, entry)
	if err != nil {
		return GenerationResult{}, c.redact(err)
	}
	return GenerationResult{PromptID: promptID, Images: images}, nil
}

// FetchResult retrieves history and artifacts for an already submitted
// prompt. In fast mode a single history fetch is made and ErrNotReady comes
// back when outputs are missing, otherwise it waits like Generate does.
func (c *Client) FetchResult(ctx context.Context, promptID string, fast bool) (GenerationResult, error) {
	var entry historyEntry
	var err error
	if fast {
		entry, err = c.fetchHistory(ctx, promptID)
		if err == nil {
			if detail, failed := entry.failure(); failed {
				err = fmt.Errorf("%w: %s", ErrExecutionFailed, detail)
			} else if !entry.hasImages() {
				err = ErrNotReady
			}
		}
	} else {
		entry, err = c.awaitOutputs(ctx, promptID)
	}
	if err != nil {
		return GenerationResult{}, c.redact(err)
	}

	images, err := c.downloadImages(ctx, entry)
	if err != nil {
		return GenerationResult{}, c.redact(err)
	}
	return GenerationResult{PromptID: promptID, Images: images}, nil
}

// ActiveCount reports the system-wide number of running plus pending
// prompts from the server queue.
func (c *Client) ActiveCount(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("can't make queue request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, c.redact(fmt.Errorf("queue call failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("queue call failed with status %d", resp.StatusCode)
	}

	var data struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("can't parse queue response: %w", err)
	}
	return len(data.Running) + len(data.Pending), nil
}

// awaitOutputs polls history until outputs show up, the server reports a
// failure, or the timeout passes. A websocket completion event shortens the
// poll interval, it never decides the outcome by itself.
func (c *Client) awaitOutputs(ctx context.Context, promptID string) (historyEntry, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsDone := make(chan struct{})
	go func() {
		defer close(wsDone)
		c.waitExecuted(wctx, promptID)
	}()

	deadline := time.Now().Add(c.timeout)
	interval := 500 * time.Millisecond
	executed := false

	for {
		entry, err := c.fetchHistory(ctx, promptID)
		switch {
		case err == nil:
			if detail, failed := entry.failure(); failed {
				return historyEntry{}, fmt.Errorf("%w: %s", ErrExecutionFailed, detail)
			}
			if entry.hasImages() {
				return entry, nil
			}
		case errors.Is(err, ErrNotReady) || errors.Is(err, ErrUnknownPrompt):
			// in concurrent runs history may lag the submission, keep polling
		default:
			log.Printf("[DEBUG] history fetch for %s failed, will retry: %v", promptID, err)
		}

		if time.Now().After(deadline) {
			return historyEntry{}, fmt.Errorf("history for prompt %s did not populate in %v", promptID, c.timeout)
		}

		select {
		case <-ctx.Done():
			return historyEntry{}, ctx.Err()
		case <-wsDone:
			if !executed {
				executed = true
				interval = 250 * time.Millisecond
			}
			wsDone = nil // fires once
		case <-time.After(interval):
			if !executed && interval < 2*time.Second {
				interval += 500 * time.Millisecond
			}
		}
	}
}

// fetchHistory gets the history entry for one prompt. The server nests the
// entry under "history" on some versions and returns a flat map keyed by
// prompt id on others, both are handled. An empty response is ErrNotReady,
// a 404 is ErrUnknownPrompt.
func (c *Client) fetchHistory(ctx context.Context, promptID string) (historyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, http.NoBody)
	if err != nil {
		return historyEntry{}, fmt.Errorf("can't make history request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return historyEntry{}, fmt.Errorf("history call failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode == http.StatusNotFound {
		return historyEntry{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, promptID)
	}
	if resp.StatusCode != http.StatusOK {
		return historyEntry{}, fmt.Errorf("history call failed with status %d", resp.StatusCode)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return historyEntry{}, fmt.Errorf("can't parse history response: %w", err)
	}

	raw, ok := payload[promptID]
	if !ok {
		if wrapped, found := payload["history"]; found {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(wrapped, &inner); err == nil {
				raw, ok = inner[promptID]
			}
		}
	}
	if !ok {
		return historyEntry{}, fmt.Errorf("%w: %s", ErrNotReady, promptID)
	}

	var entry historyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return historyEntry{}, fmt.Errorf("can't parse history entry: %w", err)
	}
	return entry, nil
}

// downloadImages fetches every artifact the history entry references.
func (c *Client) downloadImages(ctx context.Context, entry historyEntry) ([]ImageResult, error) {
	var images []ImageResult
	for _, node := range entry.Outputs {
		for _, ref := range node.Images {
			if ref.Filename == "" {
				continue
			}
			img, err := c.downloadImage(ctx, ref)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("history entry references no images")
	}
	return images, nil
}

func (c *Client) downloadImage(ctx context.Context, ref imageRef) (ImageResult, error) {
	kind := ref.Type
	if kind == "" {
		kind = "output"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view", http.NoBody)
	if err != nil {
		return ImageResult{}, fmt.Errorf("can't make view request: %w", err)
	}
	q := req.URL.Query()
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", kind)
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return ImageResult{}, fmt.Errorf("view call failed for %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return ImageResult{}, fmt.Errorf("view call for %s failed with status %d", ref.Filename, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ImageResult{}, fmt.Errorf("can't read image %s: %w", ref.Filename, err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return ImageResult{FileName: ref.Filename, Subfolder: ref.Subfolder, MimeType: mimeType, Data: data}, nil
}
