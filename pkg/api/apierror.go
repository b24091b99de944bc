// Package api is the HTTP/JSON surface of agentpay: RFC 7807 problem
// responses, request validation, rate limiting, idempotent replay and the
// handlers for every ledger, rule, stream, escrow and journal operation.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Code is the payment failure code, e.g. INSUFFICIENT_BALANCE.
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int, code payerr.Code) string {
	if code != "" {
		return "https://agentpay.dev/errors/" + strings.ToLower(strings.ReplaceAll(string(code), "_", "-"))
	}
	return fmt.Sprintf("https://agentpay.dev/errors/%d", status)
}

func write(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	write(w, &ProblemDetail{
		Type:   problemType(status, ""),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	write(w, &ProblemDetail{
		Type:     problemType(status, ""),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// StatusOf maps a payment failure code to its HTTP status.
func StatusOf(code payerr.Code) int {
	switch code {
	case payerr.CodeInvalidParameter:
		return http.StatusBadRequest
	case payerr.CodeUnauthorized:
		return http.StatusForbidden
	case payerr.CodeNotFound:
		return http.StatusNotFound
	case payerr.CodeDuplicateAgent, payerr.CodeRuleAlreadyExecuted,
		payerr.CodeStreamNotActive, payerr.CodeEscrowNotActive:
		return http.StatusConflict
	case payerr.CodeInsufficientBalance, payerr.CodeInsufficientAllowance,
		payerr.CodeDailyLimitExceeded, payerr.CodeRuleNotSatisfied:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteFailure writes the problem response for an operation error. Payment
// failures carry their code and detail; anything else is an internal error.
func WriteFailure(w http.ResponseWriter, r *http.Request, err error) {
	var pe *payerr.Error
	if !errors.As(err, &pe) || pe.Code == payerr.CodeInternal {
		WriteInternal(w, err)
		return
	}
	status := StatusOf(pe.Code)
	detail := pe.Detail
	if detail == "" && pe.Err != nil {
		detail = pe.Err.Error()
	}
	if detail == "" {
		detail = strings.ToLower(strings.ReplaceAll(string(pe.Code), "_", " "))
	}
	write(w, &ProblemDetail{
		Type:     problemType(status, pe.Code),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     string(pe.Code),
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
