package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/api"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
)

func TestStatusOf(t *testing.T) {
	cases := map[payerr.Code]int{
		payerr.CodeInvalidParameter:      http.StatusBadRequest,
		payerr.CodeUnauthorized:          http.StatusForbidden,
		payerr.CodeNotFound:              http.StatusNotFound,
		payerr.CodeDuplicateAgent:        http.StatusConflict,
		payerr.CodeRuleAlreadyExecuted:   http.StatusConflict,
		payerr.CodeStreamNotActive:       http.StatusConflict,
		payerr.CodeEscrowNotActive:       http.StatusConflict,
		payerr.CodeInsufficientBalance:   http.StatusUnprocessableEntity,
		payerr.CodeInsufficientAllowance: http.StatusUnprocessableEntity,
		payerr.CodeDailyLimitExceeded:    http.StatusUnprocessableEntity,
		payerr.CodeRuleNotSatisfied:      http.StatusUnprocessableEntity,
		payerr.CodeInternal:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, api.StatusOf(code), code)
	}
}

func TestWriteFailure_CarriesCode(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/agents/0xa/debit", nil)
	api.WriteFailure(w, r, payerr.New(payerr.CodeInsufficientBalance, "ledger.Debit", "balance 5 < 10"))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "INSUFFICIENT_BALANCE", problem.Code)
	assert.Equal(t, "balance 5 < 10", problem.Detail)
	assert.Equal(t, "https://agentpay.dev/errors/insufficient-balance", problem.Type)
}

func TestWriteFailure_SanitizesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/v1/journal/head", nil)
	api.WriteFailure(w, r, errors.New("pq: connection refused to host=10.0.0.1"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.NotContains(t, problem.Detail, "10.0.0.1")
	assert.Empty(t, problem.Code)
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}
