package gateway

import (
	"encoding/json"
	"net/http"

	"mercator-hq/admission/pkg/quota"
)

// Error types returned in ErrorResponse.
const (
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"
	ErrorTypeAuthentication    = "authentication_error"
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeNotFound          = "not_found_error"
	ErrorTypeServer            = "server_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error. Quota is set on rate limit denials.
type ErrorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    string          `json:"code,omitempty"`
	Quota   *quota.Metadata `json:"quota,omitempty"`
}

// WriteError writes a JSON error body with status code.
func WriteError(w http.ResponseWriter, code int, errType, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

// WriteDenied writes the 429 response for a denied decision: quota headers
// plus a JSON body naming the reason.
func WriteDenied(w http.ResponseWriter, d *quota.Decision) {
	copyHeaders(w.Header(), d.Headers())
	writeJSON(w, http.StatusTooManyRequests, deniedResponse(d))
}

func deniedResponse(d *quota.Decision) ErrorResponse {
	meta := d.Metadata()
	message := "rate limit exceeded"
	if err := d.Err(); err != nil {
		message = err.Error()
	}
	return ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    ErrorTypeRateLimitExceeded,
		Code:    string(d.Reason),
		Quota:   &meta,
	}}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Set(k, v)
		}
	}
}
