package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type errorEnvelope struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Category string `json:"category"`
	} `json:"error"`
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantCode     string
		wantCategory domain.ErrorCategory
	}{
		{
			name:         "photo problem",
			err:          domain.ErrMultipleFaces,
			wantStatus:   422,
			wantCode:     "MULTIPLE_FACES",
			wantCategory: domain.CategoryRetryWithClearerPhoto,
		},
		{
			name:         "wrapped service failure",
			err:          fmt.Errorf("analyze: %w", domain.ErrCorpusUnavailable.WithError(errors.New("no snapshot"))),
			wantStatus:   503,
			wantCode:     "CORPUS_UNAVAILABLE",
			wantCategory: domain.CategoryServiceUnavailable,
		},
		{
			name:         "invalid demographic",
			err:          domain.ErrInvalidDemographic,
			wantStatus:   422,
			wantCode:     "INVALID_DEMOGRAPHIC",
			wantCategory: domain.CategoryInvalidRequest,
		},
		{
			name:         "fiber error",
			err:          fiber.ErrRequestEntityTooLarge,
			wantStatus:   413,
			wantCode:     "HTTP_ERROR",
			wantCategory: domain.CategoryInvalidRequest,
		},
		{
			name:         "deadline",
			err:          fmt.Errorf("embed: %w", context.DeadlineExceeded),
			wantStatus:   504,
			wantCode:     "TIMEOUT",
			wantCategory: domain.CategoryServiceUnavailable,
		},
		{
			name:         "canceled",
			err:          fmt.Errorf("locate face: %w", context.Canceled),
			wantStatus:   503,
			wantCode:     "REQUEST_CANCELED",
			wantCategory: domain.CategoryServiceUnavailable,
		},
		{
			name:         "unknown error",
			err:          errors.New("boom"),
			wantStatus:   500,
			wantCode:     "INTERNAL_ERROR",
			wantCategory: domain.CategoryInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(testLogger())})
			app.Get("/fail", func(c *fiber.Ctx) error {
				return tt.err
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body errorEnvelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, string(tt.wantCategory), body.Error.Category)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestRecover(t *testing.T) {
	app := fiber.New()
	app.Use(Recover(testLogger()))
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("index out of range")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	var body errorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "internal", body.Error.Category)
}
