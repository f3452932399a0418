package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"food_order/pkg/apperr"
	"food_order/pkg/logging"
)

// Problem is the RFC 7807 error body. Type is stable per error kind;
// clients switch on it, not on Detail.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

var titles = map[apperr.Kind]string{
	apperr.InvalidInput:           "Invalid request",
	apperr.EntityNotFound:         "Not found",
	apperr.InvalidStateTransition: "Invalid state transition",
	apperr.DuplicateRequest:       "Duplicate request",
	apperr.StaleLock:              "Stale lock",
	apperr.RateLimitExceeded:      "Too many requests",
	apperr.BulkheadFull:           "Server busy",
	apperr.CircuitBreakerOpen:     "Dependency unavailable",
	apperr.ServiceUnavailable:     "Service unavailable",
	apperr.RequestTimeout:         "Request timed out",
	apperr.Internal:               "Internal error",
}

// writeError maps err through the taxonomy into a problem-details body.
// Internal details never leak: unclassified errors get a generic body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	detail := ""
	var ae *apperr.Error
	if kind != apperr.Internal && errors.As(err, &ae) {
		detail = ae.Detail
	}
	if status >= 500 {
		lg1 := logging.WithComponent("api")
		lg1.Error().Err(err).
			Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Problem{
		Type:   apperr.TypeURI(kind),
		Title:  titles[kind],
		Status: status,
		Detail: detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
