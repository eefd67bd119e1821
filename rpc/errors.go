package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "flashvault/native/common"
)

// ErrorBody is the JSON error envelope returned by every failing route.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy kind and, for shortfalls, the figures.
type ErrorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

// Kinds used for transport level failures outside the vault taxonomy.
const (
	kindBadRequest   = "BadRequest"
	kindUnauthorized = "Unauthenticated"
	kindRateLimited  = "RateLimited"
	kindNotFound     = "NotFound"
	kindInternal     = "Internal"
)

var kindStatus = map[string]int{
	"Unauthorized":             http.StatusForbidden,
	"InvalidToken":             http.StatusBadRequest,
	"InvalidAmount":            http.StatusBadRequest,
	"InvalidAddress":           http.StatusBadRequest,
	"InsufficientBalance":      http.StatusUnprocessableEntity,
	"InsufficientOutputAmount": http.StatusUnprocessableEntity,
	"RepaymentFailed":          http.StatusUnprocessableEntity,
	"TransferFailed":           http.StatusBadGateway,
	"ContractPaused":           http.StatusServiceUnavailable,
	"ReentrantCall":            http.StatusConflict,
}

type requestError struct {
	status int
	kind   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, kind: kindBadRequest, msg: msg}
}

func notFound(msg string) error {
	return &requestError{status: http.StatusNotFound, kind: kindNotFound, msg: msg}
}

// errorResponse maps err onto a status code and envelope.
func errorResponse(err error) (int, ErrorBody) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, ErrorBody{Error: ErrorDetail{Kind: reqErr.kind, Message: reqErr.msg}}
	}
	kind := nativecommon.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		return http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{Kind: kindInternal, Message: err.Error()}}
	}
	detail := ErrorDetail{Kind: kind, Message: err.Error()}
	if d, ok := nativecommon.Details(err); ok {
		if d.Required != nil {
			detail.Required = d.Required.String()
		}
		if d.Available != nil {
			detail.Available = d.Available.String()
		}
	}
	return status, ErrorBody{Error: detail}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func writeStatusError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Kind: kind, Message: msg}})
}
