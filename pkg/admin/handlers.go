package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"mercator-hq/admission/pkg/gateway"
	"mercator-hq/admission/pkg/resilience/breaker"
)

// Prefix is the path prefix of every admin route.
const Prefix = "/admin"

// BreakersResponse lists breaker metrics.
type BreakersResponse struct {
	Breakers []breaker.Metrics `json:"breakers"`
}

// ResetResponse reports how many breakers or keys a reset removed.
type ResetResponse struct {
	Reset int `json:"reset"`
}

// Handler serves the admin API.
type Handler struct {
	service *Service
	token   atomic.Pointer[string]
}

// NewHandler creates a Handler. A non-empty token is required as a bearer
// token on every request.
func NewHandler(service *Service, token string) *Handler {
	h := &Handler{service: service}
	h.SetToken(token)
	return h
}

// SetToken replaces the bearer token. Requests already authorized are not
// affected. An empty token opens the API.
func (h *Handler) SetToken(token string) {
	h.token.Store(&token)
}

// Mount registers the admin routes on mux.
//
//	GET    /admin/breakers
//	GET    /admin/breakers/{name}
//	POST   /admin/breakers/{name}/reset
//	POST   /admin/breakers/reset
//	GET    /admin/health/breakers
//	GET    /admin/tiers
//	GET    /admin/limits/{identifier}?tier=basic&resource=a&resource=b
//	DELETE /admin/limits/{identifier}
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.Handle("GET "+Prefix+"/breakers", h.auth(h.listBreakers))
	mux.Handle("GET "+Prefix+"/breakers/{name}", h.auth(h.getBreaker))
	mux.Handle("POST "+Prefix+"/breakers/{name}/reset", h.auth(h.resetBreaker))
	mux.Handle("POST "+Prefix+"/breakers/reset", h.auth(h.resetAllBreakers))
	mux.Handle("GET "+Prefix+"/health/breakers", h.auth(h.breakerHealth))
	mux.Handle("GET "+Prefix+"/tiers", h.auth(h.tiers))
	mux.Handle("GET "+Prefix+"/limits/{identifier}", h.auth(h.usage))
	mux.Handle("DELETE "+Prefix+"/limits/{identifier}", h.auth(h.resetLimits))
}

func (h *Handler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := *h.token.Load()
		if want == "" {
			next(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			gateway.WriteError(w, http.StatusUnauthorized, gateway.ErrorTypeAuthentication, "invalid admin token")
			return
		}
		next(w, r)
	})
}

func (h *Handler) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BreakersResponse{Breakers: h.service.GetAllCircuitBreakerMetrics()})
}

func (h *Handler) getBreaker(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetCircuitBreaker(r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.service.ResetCircuitBreaker(name); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.service.GetCircuitBreaker(name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) resetAllBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ResetResponse{Reset: h.service.ResetAllCircuitBreakers()})
}

func (h *Handler) breakerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.BreakerHealth())
}

func (h *Handler) tiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetTierComparisonTable())
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap, err := h.service.GetUsage(r.Context(), r.PathValue("identifier"), q.Get("tier"), q["resource"]...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) resetLimits(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ResetLimitsForIdentifier(r.Context(), r.PathValue("identifier"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{Reset: n})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, breaker.ErrNotFound):
		gateway.WriteError(w, http.StatusNotFound, gateway.ErrorTypeNotFound, err.Error())
	case errors.Is(err, ErrEmptyIdentifier):
		gateway.WriteError(w, http.StatusBadRequest, gateway.ErrorTypeInvalidRequest, err.Error())
	default:
		gateway.WriteError(w, http.StatusInternalServerError, gateway.ErrorTypeServer, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
