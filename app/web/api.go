package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"

	"comfyq/app/presets"
	"comfyq/app/runner"
	"comfyq/app/session"
)

// GenerateRequest is the body of POST /api/v1/generate. A named preset, when
// set, replaces an empty negative prompt. A nil seed requests a random one.
type GenerateRequest struct {
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Preset         string `json:"preset,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// APIJob represents a job in JSON API response
type APIJob struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	PromptID       string `json:"prompt_id,omitempty"`
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int32  `json:"seed"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	Error          string `json:"error,omitempty"`
}

// APIJobsResponse is the JSON response for /api/v1/jobs
type APIJobsResponse struct {
	Jobs  []APIJob `json:"jobs"`
	Count int      `json:"count"`
}

// APIHistoryEntry represents a terminal outcome in JSON API response. Images
// are included only when a single entry is requested.
type APIHistoryEntry struct {
	Key            string   `json:"key"`
	JobID          string   `json:"job_id"`
	PromptID       string   `json:"prompt_id,omitempty"`
	Status         string   `json:"status"`
	PositivePrompt string   `json:"positive_prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Seed           int32    `json:"seed"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	Images         []string `json:"images,omitempty"`
	ImageCount     int      `json:"image_count"`
	Error          string   `json:"error,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	CompletedAt    int64    `json:"completed_at,omitempty"`
}

// APIHistoryResponse is the JSON response for /api/v1/history
type APIHistoryResponse struct {
	Entries []APIHistoryEntry `json:"entries"`
	Count   int               `json:"count"`
}

// APIStatusResponse is the JSON response for /api/v1/status
type APIStatusResponse struct {
	Stage           string    `json:"stage"`
	ClientID        string    `json:"client_id"`
	Active          int       `json:"active"`
	MaxActive       int       `json:"max_active"`
	GlobalActive    *int      `json:"global_active,omitempty"`
	GlobalMaxActive int       `json:"global_max_active,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// APITagsResponse is the JSON response for /api/v1/tags
type APITagsResponse struct {
	Tags  []presets.Tag `json:"tags"`
	Count int           `json:"count"`
}

// APIPresetsResponse is the JSON response for /api/v1/presets
type APIPresetsResponse struct {
	Presets []presets.Preset `json:"presets"`
}

// toAPIJob converts session.JobRecord to APIJob
func toAPIJob(job session.JobRecord) APIJob {
	return APIJob{
		ID:             job.ID,
		Status:         string(job.Status),
		PromptID:       job.PromptID,
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		Seed:           job.Seed,
		Width:          job.Width,
		Height:         job.Height,
		CreatedAt:      job.CreatedAt,
		Error:          job.Error,
	}
}

// toAPIHistoryEntry converts session.HistoryEntry to APIHistoryEntry
func toAPIHistoryEntry(e session.HistoryEntry, withImages bool) APIHistoryEntry {
	res := APIHistoryEntry{
		Key:            e.Key,
		JobID:          e.JobID,
		PromptID:       e.PromptID,
		Status:         string(e.Status),
		PositivePrompt: e.PositivePrompt,
		NegativePrompt: e.NegativePrompt,
		Seed:           e.Seed,
		Width:          e.Width,
		Height:         e.Height,
		ImageCount:     len(e.Images),
		Error:          e.Error,
		CreatedAt:      e.CreatedAt,
		CompletedAt:    e.CompletedAt,
	}
	if withImages {
		res.Images = e.Images
	}
	return res
}

// handleGenerate accepts a generation request and submits it for async
// execution, responding with the queued job
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PositivePrompt == "" {
		s.writeJSONError(w, http.StatusBadRequest, "positive_prompt required")
		return
	}

	if req.Preset != "" && req.NegativePrompt == "" {
		preset, ok := s.library.Preset(req.Preset)
		if !ok {
			s.writeJSONError(w, http.StatusBadRequest, "unknown preset "+strconv.Quote(req.Preset))
			return
		}
		req.NegativePrompt = preset.Prompt
	}

	seed := int64(-1) // random
	if req.Seed != nil {
		seed = *req.Seed
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}

	job, err := s.submitter.Submit(r.Context(), runner.Request{
		PositivePrompt: req.PositivePrompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           seed,
		Width:          width,
		Height:         height,
	})
	if err != nil {
		if errors.Is(err, runner.ErrNotAdmitted) {
			s.writeJSONError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if errors.Is(err, runner.ErrInvalidRequest) {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[WARN] submission failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, toAPIJob(job))
}

// handleJobs returns all in-flight jobs
func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.List()
	jobs := make([]APIJob, 0, len(records))
	for _, j := range records {
		jobs = append(jobs, toAPIJob(j))
	}
	s.writeJSON(w, http.StatusOK, APIJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// handleStatus returns session and concurrency state - designed for CLI/jq consumption
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := APIStatusResponse{
		Stage:           s.info.Stage().String(),
		ClientID:        s.info.ClientID(),
		Active:          s.registry.ActiveCount(),
		MaxActive:       s.maxActive,
		GlobalMaxActive: s.globalMaxActive,
		Timestamp:       time.Now(),
	}

	if s.counter != nil && s.globalMaxActive > 0 {
		if global, err := s.counter.ActiveCount(r.Context()); err == nil {
			resp.GlobalActive = &global
		} else {
			log.Printf("[WARN] can't get global active count: %v", err)
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleHistoryList returns visible history entries, most recent first,
// without image payloads
func (s *Server) handleHistoryList(w http.ResponseWriter, _ *http.Request) {
	all := s.history.Get()
	entries := make([]APIHistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- { // most recent first
		entries = append(entries, toAPIHistoryEntry(all[i], false))
	}
	s.writeJSON(w, http.StatusOK, APIHistoryResponse{Entries: entries, Count: len(entries)})
}

// handleHistoryEntry returns a single history entry with image payloads
func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, ok := s.history.Find(key)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "history entry not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIHistoryEntry(entry, true))
}

// handleHistoryRestore re-fetches lost images for a history entry
func (s *Server) handleHistoryRestore(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.history.Find(key); !ok {
		s.writeJSONError(w, http.StatusNotFound, "history entry not found")
		return
	}

	entry, err := s.submitter.RestoreArtifacts(r.Context(), key)
	if err != nil {
		log.Printf("[WARN] can't restore artifacts for %s: %v", key, err)
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIHistoryEntry(entry, true))
}

// handleHistoryDelete removes a single history entry
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.history.Find(key); !ok {
		s.writeJSONError(w, http.StatusNotFound, "history entry not found")
		return
	}
	s.history.Delete(key)
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "deleted", "key": key})
}

// handleHistoryClear removes all history entries and their artifacts
func (s *Server) handleHistoryClear(w http.ResponseWriter, _ *http.Request) {
	s.history.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "cleared"})
}

// handleTags searches the tag dictionary
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	tags := s.library.Search(r.URL.Query().Get("q"), limit)
	s.writeJSON(w, http.StatusOK, APITagsResponse{Tags: tags, Count: len(tags)})
}

// handlePresets returns the available negative prompt presets
func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, APIPresetsResponse{Presets: s.library.Presets})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
