package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/logging"
	"scriptreel/internal/queue"
	"scriptreel/internal/services"
	"scriptreel/internal/services/elevenlabs"
)

// JobService is the dispatcher surface the API needs.
type JobService interface {
	Submit(ctx context.Context, script, aspectRatio, voiceID string) (*queue.Job, error)
	Status(ctx context.Context, jobID string) (*queue.Job, error)
	List(ctx context.Context, stages ...queue.Stage) ([]*queue.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string) (*queue.Job, error)
	Remove(ctx context.Context, jobID string) error
	ClearFinished(ctx context.Context, includeFailed bool) (int64, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
	Subscribe(jobID string) (<-chan queue.Job, func())
}

// VoiceLister exposes the narration voices endpoint.
type VoiceLister interface {
	Voices(ctx context.Context) ([]elevenlabs.Voice, error)
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	jobs   JobService
	voices VoiceLister

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, jobs JobService, voices VoiceLister, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.WithComponent(logger, "api"),
		jobs:   jobs,
		voices: voices,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJob))
	mux.HandleFunc("/api/voices", authMiddleware(token, srv.handleVoices))
	mux.HandleFunc("/api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Handler exposes the route table (used by tests).
func (s *apiServer) handler() http.Handler {
	return s.server.Handler
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type submitPayload struct {
	Script      string `json:"script"`
	AspectRatio string `json:"aspect_ratio"`
	VoiceID     string `json:"voice_id"`
}

// handleJobs serves POST /api/jobs, GET /api/jobs, and DELETE /api/jobs
// (clear finished records).
func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload submitPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		job, err := s.jobs.Submit(r.Context(), payload.Script, payload.AspectRatio, payload.VoiceID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, jobView(job, true))
	case http.MethodGet:
		var stages []queue.Stage
		for _, value := range r.URL.Query()["stage"] {
			stage, ok := queue.ParseStage(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, "unknown stage "+value)
				return
			}
			stages = append(stages, stage)
		}
		jobs, err := s.jobs.List(r.Context(), stages...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		views := make([]JobView, len(jobs))
		for i, job := range jobs {
			views[i] = jobView(job, false)
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
	case http.MethodDelete:
		includeFailed := r.URL.Query().Get("failed") == "1"
		cleared, err := s.jobs.ClearFinished(r.Context(), includeFailed)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJob serves GET and DELETE on /api/jobs/{id}, POST
// /api/jobs/{id}/cancel, POST /api/jobs/{id}/retry, and GET
// /api/jobs/{id}/events.
func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "missing job id")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			job, err := s.jobs.Status(r.Context(), id)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, jobView(job, true))
		case http.MethodDelete:
			if err := s.jobs.Remove(r.Context(), id); err != nil {
				s.writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "cancel":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.jobs.Cancel(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		job, err := s.jobs.Status(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, jobView(job, false))
	case "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		job, err := s.jobs.Retry(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, jobView(job, false))
	case "events":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.streamEvents(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action "+action)
	}
}

// streamEvents sends job snapshots over SSE until the job goes terminal or
// the client disconnects. The subscription attaches before the current
// snapshot is read so a terminal transition in between is never missed.
func (s *apiServer) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.jobs.Subscribe(id)
	defer cancel()

	current, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(job *queue.Job) bool {
		encoded, err := json.Marshal(jobView(job, false))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(current) || current.Stage.IsTerminal() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			if !writeEvent(&snapshot) {
				return
			}
			if snapshot.Stage.IsTerminal() {
				return
			}
		}
	}
}

func (s *apiServer) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.voices == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"voices": []elevenlabs.Voice{}})
		return
	}
	voices, err := s.voices.Voices(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.jobs.Health(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var view HealthView
	view.Status = "ok"
	view.Jobs.Total = summary.Total
	view.Jobs.Queued = summary.Queued
	view.Jobs.Running = summary.Running
	view.Jobs.Completed = summary.Completed
	view.Jobs.Failed = summary.Failed
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, services.UserMessage(err))
	case errors.Is(err, services.ErrResourceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, services.UserMessage(err))
	case errors.Is(err, services.ErrExternalCall):
		s.writeError(w, http.StatusBadGateway, services.UserMessage(err))
	default:
		s.logger.Error("api request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
