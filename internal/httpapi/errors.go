package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"dcsa-query/internal/queryerr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	HTTPMethod     string        `json:"httpMethod"`
	RequestURI     string        `json:"requestUri"`
	StatusCode     int           `json:"statusCode"`
	StatusCodeText string        `json:"statusCodeText"`
	ErrorDateTime  time.Time     `json:"errorDateTime"`
	Errors         []ErrorDetail `json:"errors"`
}

// ErrorDetail is one reported problem.
type ErrorDetail struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Reasons reported in ErrorDetail.
const (
	ReasonInvalidParameter = "invalidParameter"
	ReasonUnknownEntity    = "unknownEntity"
	ReasonInternal         = "internalError"
	ReasonRateLimited      = "tooManyRequests"
)

// RateLimited reports a request rejected by the rate limiter.
func RateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	writeError(w, r, http.StatusTooManyRequests, ReasonRateLimited, "rate limit exceeded")
}

// writeFailure classifies err. Server faults are reported without detail.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isNotFound(err):
		writeError(w, r, http.StatusNotFound, ReasonUnknownEntity, err.Error())
	case queryerr.IsClientError(err):
		writeError(w, r, http.StatusBadRequest, ReasonInvalidParameter, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, ReasonInternal, "the request could not be completed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, reason, message string) {
	body := ErrorResponse{
		HTTPMethod:     r.Method,
		RequestURI:     r.URL.RequestURI(),
		StatusCode:     status,
		StatusCodeText: http.StatusText(status),
		ErrorDateTime:  time.Now().UTC(),
		Errors:         []ErrorDetail{{Reason: reason, Message: message}},
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&body)
}
