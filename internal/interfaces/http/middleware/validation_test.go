package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/ledgersync/internal/interfaces/http/dto"
)

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	assert.True(t, ok)
	assert.NotNil(t, v)
}

func TestFormatValidationErrors(t *testing.T) {
	type runRequest struct {
		Mode      string `json:"mode" binding:"required,oneof=incremental period"`
		StartDate string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	}

	SetupValidator()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	t.Run("returns validation errors for invalid input", func(t *testing.T) {
		body := strings.NewReader(`{"mode": "weekly", "start_date": "10/01/2025"}`)
		req := httptest.NewRequest(http.MethodPost, "/test", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		require.Len(t, resp.Error.Details, 2)
		assert.Equal(t, "mode", resp.Error.Details[0].Field)
		assert.Equal(t, "Must be one of: incremental period", resp.Error.Details[0].Message)
		assert.Equal(t, "start_date", resp.Error.Details[1].Field)
		assert.Equal(t, "Must be a date in YYYY-MM-DD format", resp.Error.Details[1].Message)
	})

	t.Run("returns bad request for malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"mode":`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeBadRequest)
	})

	t.Run("returns success for valid input", func(t *testing.T) {
		body := strings.NewReader(`{"mode": "period", "start_date": "2025-10-01"}`)
		req := httptest.NewRequest(http.MethodPost, "/test", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestFormatValidationErrors_NonValidationError(t *testing.T) {
	resp := FormatValidationErrors(errors.New("boom"), "req-1")
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	assert.Empty(t, resp.Error.Details)
}

func TestGetValidationMessage(t *testing.T) {
	type sample struct {
		Required string `validate:"required"`
		UUID     string `validate:"uuid"`
		OneOf    string `validate:"oneof=QUEUED RUNNING"`
		Min      int    `validate:"min=1"`
		Max      int    `validate:"max=100"`
	}

	err := validator.New().Struct(sample{UUID: "nope", OneOf: "DONE", Max: 500})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	messages := map[string]string{}
	for _, e := range validationErrs {
		messages[e.Field()] = getValidationMessage(e)
	}
	assert.Equal(t, "This field is required", messages["Required"])
	assert.Equal(t, "Invalid UUID format", messages["UUID"])
	assert.Equal(t, "Must be one of: QUEUED RUNNING", messages["OneOf"])
	assert.Equal(t, "Must be at least 1", messages["Min"])
	assert.Equal(t, "Must be at most 100", messages["Max"])
}
