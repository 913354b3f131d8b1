package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/analysis"
	"github.com/viflex/platescan/internal/capture"
	"github.com/viflex/platescan/internal/core/store"
	"github.com/viflex/platescan/internal/selection"
	"github.com/viflex/platescan/internal/workflow"
)

func TestFromDomain(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"rejected", &selection.RejectionError{Reason: selection.ReasonTooLarge, Detail: "too big"}, CodeInvalidInput, http.StatusBadRequest},
		{"no image", workflow.ErrNoImage, CodeConflict, http.StatusConflict},
		{"in flight", workflow.ErrAnalysisInFlight, CodeConflict, http.StatusConflict},
		{"superseded", fmt.Errorf("analyze: %w", workflow.ErrSuperseded), CodeConflict, http.StatusConflict},
		{"capture state", &capture.StateError{Op: "capture", State: capture.StateIdle}, CodeConflict, http.StatusConflict},
		{"history missing", store.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{"upstream status", &analysis.Error{Kind: analysis.KindHTTPStatus, StatusCode: 500}, CodeExternalService, http.StatusBadGateway},
		{"unexpected", fmt.Errorf("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := FromDomain(ctx, tt.err)
			require.NotNil(t, env)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.status, HTTPStatusFromEnvelope(env))
		})
	}

	assert.Nil(t, FromDomain(ctx, nil))
}

func TestFromDomainUpstreamDetails(t *testing.T) {
	env := FromDomain(context.Background(), &analysis.Error{Kind: analysis.KindHTTPStatus, StatusCode: 503})
	require.NotNil(t, env)
	assert.Equal(t, "The analysis service returned HTTP 503. Please try again.", env.Message)
	assert.Equal(t, string(analysis.KindHTTPStatus), env.Details["kind"])
	assert.Equal(t, 503, env.Details["upstream_status"])
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/abc/image", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &selection.RejectionError{Reason: selection.ReasonMIMEType, Detail: "unsupported media type \"image/gif\""})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInvalidInput, body.Error.Code)
	assert.Equal(t, "mime_type", body.Error.Details["reason"])
	assert.NotEmpty(t, body.Error.RequestID)
	assert.NotContains(t, body.Error.Details, "wrapped_error")
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, env.Code)

	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))
}
