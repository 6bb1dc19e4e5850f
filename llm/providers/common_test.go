package providers

import (
	"strings"
	"testing"

	"github.com/BaSui01/chatflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		msg       string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{name: "unauthorized", status: 401, wantCode: llm.ErrUnauthorized},
		{name: "forbidden", status: 403, wantCode: llm.ErrForbidden},
		{name: "rate limited", status: 429, wantCode: llm.ErrRateLimited, retryable: true},
		{name: "bad request", status: 400, msg: "invalid model", wantCode: llm.ErrInvalidRequest},
		{name: "quota keyword", status: 400, msg: "You exceeded your current quota", wantCode: llm.ErrQuotaExceeded},
		{name: "billing keyword", status: 400, msg: "Billing hard limit reached", wantCode: llm.ErrQuotaExceeded},
		{name: "credit keyword", status: 400, msg: "insufficient CREDIT balance", wantCode: llm.ErrQuotaExceeded},
		{name: "request timeout", status: 408, wantCode: llm.ErrUpstreamTimeout, retryable: true},
		{name: "gateway timeout", status: 504, wantCode: llm.ErrUpstreamTimeout, retryable: true},
		{name: "bad gateway", status: 502, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "service unavailable", status: 503, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "overloaded", status: 529, wantCode: llm.ErrModelOverloaded, retryable: true},
		{name: "server error", status: 500, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "teapot", status: 418, wantCode: llm.ErrUpstreamError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := MapHTTPError(tc.status, tc.msg, "openai")
			require.NotNil(t, err)
			assert.Equal(t, tc.wantCode, err.Code)
			assert.Equal(t, tc.retryable, err.Retryable)
			assert.Equal(t, tc.status, err.HTTPStatus)
			assert.Equal(t, "openai", err.Provider)
			assert.Equal(t, tc.msg, err.Message)
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	t.Parallel()

	t.Run("structured error", func(t *testing.T) {
		t.Parallel()
		body := strings.NewReader(`{"error":{"message":"model not found","type":"invalid_request_error"}}`)
		assert.Equal(t, "model not found", ReadErrorMessage(body))
	})

	t.Run("plain text", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "bad gateway", ReadErrorMessage(strings.NewReader("  bad gateway\n")))
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, ReadErrorMessage(strings.NewReader("")))
	})

	t.Run("oversized body is truncated", func(t *testing.T) {
		t.Parallel()
		big := strings.Repeat("x", 10000)
		got := ReadErrorMessage(strings.NewReader(big))
		assert.Len(t, got, 4096)
	})
}
