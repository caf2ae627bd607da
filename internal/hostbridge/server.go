// Package hostbridge exposes the engine to the host application.
//
// The HTTP API under /v1 mirrors the engine's operations: schedule, trigger
// and stop calls, silence audio, play the ambient test tone, read and write
// credentials. GET /v1/host upgrades to a websocket over which the host
// reports its phase, runs the background poll and receives notifications.
// The server also carries /healthz, /readyz and /metrics.
package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/ringer/internal/ambient"
	"github.com/MrWong99/ringer/internal/call"
	"github.com/MrWong99/ringer/internal/credentials"
	"github.com/MrWong99/ringer/internal/health"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/playback"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Engine is the call controller surface the API drives.
type Engine interface {
	ScheduleCall(ctx context.Context, delay time.Duration) error
	TriggerTestCall(ctx context.Context) error
	StopCall(ctx context.Context) error
	ForceStopCall(ctx context.Context) error
	ForceStopAnyAudio(ctx context.Context) error
	DisableAllAudio(ctx context.Context) error
	StopAllAudio(ctx context.Context) error
	IsCallActive(ctx context.Context) bool
	IsCallStopping() bool
	State() call.State
	CallID() string
	Tier() string
}

// AmbientTester plays the ambient test tone.
type AmbientTester interface {
	TriggerTestTone(ctx context.Context) error
}

// PhaseReader reports the host's current phase.
type PhaseReader interface {
	Current() phase.Phase
}

// Config configures a [Server].
type Config struct {
	// Engine is required.
	Engine Engine

	// Ambient serves POST /v1/ambient/test. Optional.
	Ambient AmbientTester

	// Credentials serves /v1/credentials. Optional.
	Credentials *credentials.Store

	// Hub serves GET /v1/host. Optional.
	Hub *Hub

	// Phases adds the host phase to the status response. Optional.
	Phases PhaseReader

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// MetricsHandler serves /metrics, typically promhttp.Handler(). Optional.
	MetricsHandler http.Handler

	// Metrics records request durations. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server routes the host API.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer builds the routes for cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("hostbridge: engine is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /v1/call/schedule", s.handleSchedule)
	s.mux.HandleFunc("POST /v1/call/test", s.op(cfg.Engine.TriggerTestCall))
	s.mux.HandleFunc("POST /v1/call/stop", s.op(cfg.Engine.StopCall))
	s.mux.HandleFunc("POST /v1/call/force-stop", s.op(cfg.Engine.ForceStopCall))
	s.mux.HandleFunc("POST /v1/audio/force-stop", s.op(cfg.Engine.ForceStopAnyAudio))
	s.mux.HandleFunc("POST /v1/audio/disable", s.op(cfg.Engine.DisableAllAudio))
	s.mux.HandleFunc("POST /v1/audio/stop-all", s.op(cfg.Engine.StopAllAudio))
	s.mux.HandleFunc("GET /v1/call/status", s.handleStatus)

	if cfg.Ambient != nil {
		s.mux.HandleFunc("POST /v1/ambient/test", s.op(cfg.Ambient.TriggerTestTone))
	}
	if cfg.Credentials != nil {
		s.mux.HandleFunc("GET /v1/credentials", s.handleGetCredentials)
		s.mux.HandleFunc("PUT /v1/credentials", s.handlePutCredentials)
		s.mux.HandleFunc("DELETE /v1/credentials", s.handleDeleteCredentials)
	}
	if cfg.Hub != nil {
		s.mux.Handle("GET /v1/host", cfg.Hub)
	}
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	if cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.handler = observe.Middleware(cfg.Metrics)(s.mux)
	return s, nil
}

// Handler returns the routed handler wrapped in tracing and request metrics.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type opResponse struct {
	OK           bool   `json:"ok"`
	State        string `json:"state"`
	StillPlaying bool   `json:"still_playing,omitempty"`
	Error        string `json:"error,omitempty"`
}

type statusResponse struct {
	State    string `json:"state"`
	Active   bool   `json:"active"`
	Stopping bool   `json:"stopping"`
	CallID   string `json:"call_id,omitempty"`
	Tier     string `json:"tier,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// op adapts an engine operation to a handler.
func (s *Server) op(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, fn(r.Context()))
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	res := opResponse{OK: err == nil, State: s.cfg.Engine.State().String()}
	code := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, call.ErrStillPlaying):
		res.StillPlaying = true
		res.Error = err.Error()
	case errors.Is(err, call.ErrStopping), errors.Is(err, ambient.ErrDeferred):
		code = http.StatusConflict
		res.Error = err.Error()
	case errors.Is(err, call.ErrClosed):
		code = http.StatusServiceUnavailable
		res.Error = err.Error()
	case errors.Is(err, playback.ErrAllTiersFailed):
		code = http.StatusBadGateway
		res.Error = err.Error()
	default:
		code = http.StatusInternalServerError
		res.Error = err.Error()
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("hostbridge: operation failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, res)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	delay, err := parseDelay(r.URL.Query().Get("delay"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, opResponse{State: s.cfg.Engine.State().String(), Error: err.Error()})
		return
	}
	s.respond(w, r, s.cfg.Engine.ScheduleCall(r.Context(), delay))
}

// parseDelay accepts a Go duration ("2s", "1m30s") or plain seconds ("2.5").
func parseDelay(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("delay is required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, fmt.Errorf("delay %q is neither a duration nor a number of seconds", v)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("delay %v is negative", d)
	}
	return d, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e := s.cfg.Engine
	res := statusResponse{
		State:    e.State().String(),
		Active:   e.IsCallActive(r.Context()),
		Stopping: e.IsCallStopping(),
		CallID:   e.CallID(),
		Tier:     e.Tier(),
	}
	if s.cfg.Phases != nil {
		res.Phase = s.cfg.Phases.Current().String()
	}
	writeJSON(w, http.StatusOK, res)
}

type credentialsBody struct {
	Token *string           `json:"token,omitempty"`
	User  *credentials.User `json:"user,omitempty"`
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := s.cfg.Credentials.Token(ctx)
	if err != nil {
		s.credentialsError(w, r, err)
		return
	}
	u, ok, err := s.cfg.Credentials.User(ctx)
	if err != nil {
		s.credentialsError(w, r, err)
		return
	}
	var body credentialsBody
	if tok != "" {
		body.Token = &tok
	}
	if ok {
		body.User = &u
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body: " + err.Error()})
		return
	}
	if body.Token == nil && body.User == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token or user is required"})
		return
	}
	ctx := r.Context()
	if body.Token != nil {
		if err := s.cfg.Credentials.SetToken(ctx, *body.Token); err != nil {
			s.credentialsError(w, r, err)
			return
		}
	}
	if body.User != nil {
		if err := s.cfg.Credentials.SetUser(ctx, *body.User); err != nil {
			s.credentialsError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Credentials.Clear(r.Context()); err != nil {
		s.credentialsError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) credentialsError(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("hostbridge: credentials", "method", r.Method, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
