package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   Code
	}{
		{"validation", shared.NewValidationError("filters", "required"), http.StatusBadRequest, CodeValidationFailed},
		{"not found", fmt.Errorf("%w: registration", shared.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"conflict", fmt.Errorf("%w: stale", shared.ErrConflict), http.StatusConflict, CodeConflict},
		{"quota", shared.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded},
		{"unavailable", fmt.Errorf("%w: dial", shared.ErrStoreUnavailable), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.ErrorIs(t, apiErr, tt.err)
		})
	}
}

func TestFromDomainError_ValidationDetails(t *testing.T) {
	ve := shared.NewValidationError("filters", "must not be empty")
	ve.Add("callback_uri", "must be https")

	apiErr := FromError(fmt.Errorf("create: %w", ve))
	details, ok := apiErr.Details.(ValidationErrors)
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{
		{Field: "filters", Message: "must not be empty"},
		{Field: "callback_uri", Message: "must be https"},
	}, details)
}

func TestError_WriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(errors.New("db password is hunter2")).WriteJSON(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeInternalError, resp.Code)
}

func TestFromError_Nil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}
