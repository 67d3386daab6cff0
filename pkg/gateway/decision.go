package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/telemetry/logging"
)

// maxBodyBytes bounds decision service request bodies.
const maxBodyBytes = 64 << 10

// CheckRequest is the body of POST /v1/check and POST /v1/executions.
type CheckRequest struct {
	Identifier      string `json:"identifier"`
	Tier            string `json:"tier,omitempty"`
	Resource        string `json:"resource,omitempty"`
	EstimatedTokens int64  `json:"estimated_tokens,omitempty"`
}

// CheckResponse reports an admission decision.
type CheckResponse struct {
	Allowed       bool           `json:"allowed"`
	Reason        quota.Reason   `json:"reason"`
	Identifier    string         `json:"identifier"`
	Tier          string         `json:"tier"`
	RequestedTier string         `json:"requested_tier,omitempty"`
	Resource      string         `json:"resource,omitempty"`
	Window        string         `json:"window,omitempty"`
	Quota         quota.Metadata `json:"quota"`
	Concurrent    int64          `json:"concurrent"`
	FailedOpen    bool           `json:"failed_open,omitempty"`
}

// ExecutionResponse is returned when an execution begins.
type ExecutionResponse struct {
	ExecutionID string        `json:"execution_id"`
	Decision    CheckResponse `json:"decision"`
}

// EndRequest is the optional body of DELETE /v1/executions/{id}.
type EndRequest struct {
	Tokens int64 `json:"tokens"`
}

func newCheckResponse(d *quota.Decision) CheckResponse {
	return CheckResponse{
		Allowed:       d.Allowed,
		Reason:        d.Reason,
		Identifier:    d.Identifier,
		Tier:          d.Tier,
		RequestedTier: d.RequestedTier,
		Resource:      d.Resource,
		Window:        d.Window,
		Quota:         d.Metadata(),
		Concurrent:    d.Concurrent,
		FailedOpen:    d.FailedOpen,
	}
}

type trackedExecution struct {
	exec    *quota.Execution
	started time.Time
}

// DecisionService exposes the limiter to gateways running in other
// processes. A gateway checks a request, or begins an execution and ends
// it by ID once the work is done.
type DecisionService struct {
	limiter     *quota.Limiter
	logger      *slog.Logger
	defaultTier string
	ttl         time.Duration
	now         func() time.Time

	mu         sync.Mutex
	executions map[string]*trackedExecution
}

// NewDecisionService creates the service. Executions not ended within ttl
// are released by Sweep, matching the safety expiry of the concurrency
// counter.
func NewDecisionService(limiter *quota.Limiter, defaultTier string, ttl time.Duration, logger *slog.Logger) *DecisionService {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = quota.DefaultConcurrencyTTL
	}
	return &DecisionService{
		limiter:     limiter,
		logger:      logger.With("component", "decision_service"),
		defaultTier: defaultTier,
		ttl:         ttl,
		now:         time.Now,
		executions:  make(map[string]*trackedExecution),
	}
}

// Mount registers the service routes on mux.
func (s *DecisionService) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("POST /v1/executions", s.handleBegin)
	mux.HandleFunc("DELETE /v1/executions/{id}", s.handleEnd)
}

// Active returns the number of executions that have not ended.
func (s *DecisionService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executions)
}

// Sweep ends executions older than the TTL with zero tokens and returns
// how many were released.
func (s *DecisionService) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*trackedExecution
	for id, te := range s.executions {
		if te.started.Before(cutoff) {
			expired = append(expired, te)
			delete(s.executions, id)
		}
	}
	s.mu.Unlock()

	for _, te := range expired {
		te.exec.End(ctx, 0)
		s.logger.Warn("abandoned execution released", "identifier", te.exec.Identifier())
	}
	return len(expired)
}

// Close ends every outstanding execution.
func (s *DecisionService) Close(ctx context.Context) {
	s.mu.Lock()
	executions := s.executions
	s.executions = make(map[string]*trackedExecution)
	s.mu.Unlock()

	for _, te := range executions {
		te.exec.End(ctx, 0)
	}
}

func (s *DecisionService) decode(w http.ResponseWriter, r *http.Request) (quota.Request, bool) {
	var body CheckRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid request body: "+err.Error())
		return quota.Request{}, false
	}
	if body.Identifier == "" {
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "identifier is required")
		return quota.Request{}, false
	}
	if body.EstimatedTokens < 0 {
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "estimated_tokens must not be negative")
		return quota.Request{}, false
	}
	if body.Tier == "" {
		body.Tier = s.defaultTier
	}
	return quota.Request{
		Identifier:      body.Identifier,
		Tier:            body.Tier,
		Scope:           body.Resource,
		EstimatedTokens: body.EstimatedTokens,
	}, true
}

// handleCheck evaluates without holding a concurrency slot. The decision
// is always returned with 200; denials are in the body and headers.
func (s *DecisionService) handleCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx := logging.WithIdentifier(r.Context(), req.Identifier)

	d := s.limiter.EvaluateRequest(ctx, req)
	copyHeaders(w.Header(), d.Headers())
	writeJSON(w, http.StatusOK, newCheckResponse(d))
}

func (s *DecisionService) handleBegin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx := logging.WithIdentifier(r.Context(), req.Identifier)

	d := s.limiter.EvaluateRequest(ctx, req)
	if !d.Allowed {
		WriteDenied(w, d)
		return
	}

	exec, err := s.limiter.Begin(ctx, d)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to begin execution", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrorTypeServer, "failed to begin execution")
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.executions[id] = &trackedExecution{exec: exec, started: s.now()}
	s.mu.Unlock()

	copyHeaders(w.Header(), d.Headers())
	w.Header().Set("Location", "/v1/executions/"+id)
	writeJSON(w, http.StatusCreated, ExecutionResponse{ExecutionID: id, Decision: newCheckResponse(d)})
}

func (s *DecisionService) handleEnd(w http.ResponseWriter, r *http.Request) {
	var body EndRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Tokens < 0 {
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "tokens must not be negative")
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	te, ok := s.executions[id]
	delete(s.executions, id)
	s.mu.Unlock()

	if !ok {
		WriteError(w, http.StatusNotFound, ErrorTypeNotFound, "execution "+id+" not found")
		return
	}

	te.exec.End(context.WithoutCancel(r.Context()), body.Tokens)
	w.WriteHeader(http.StatusNoContent)
}
