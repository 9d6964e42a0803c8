package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: 120 > 50", ErrTooManyPages), ReasonTooManyPages},
		{fmt.Errorf("%w: no video id", ErrInvalidSourceURL), ReasonInvalidURL},
		{fmt.Errorf("%w: video abc", ErrSourceNotFound), ReasonNotFound},
		{fmt.Errorf("%w: status 500", ErrFetch), ReasonFetchFailed},
		{fmt.Errorf("%w: bad xref", ErrParse), ReasonParseFailed},
		{ErrNoText, ReasonNoText},
		{fmt.Errorf("%w: quota", ErrEmbeddingProvider), ReasonProviderError},
		{errors.New("boom"), ReasonProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(fmt.Errorf("embed: %w", ErrEmbeddingProvider)))
	assert.True(t, Transient(fmt.Errorf("upsert: %w", ErrStoreUnavailable)))
	assert.False(t, Transient(fmt.Errorf("%w: 2000 pages", ErrTooManyPages)))
	assert.False(t, Transient(ErrInvalidSourceURL))
}

func TestHTTPStatus(t *testing.T) {
	code, status := HTTPStatus(fmt.Errorf("doc 1: %w", ErrDocumentNotFound))
	assert.Equal(t, "NOT_FOUND", code)
	assert.Equal(t, http.StatusNotFound, status)

	code, status = HTTPStatus(ErrDocumentNotReady)
	assert.Equal(t, "NOT_READY", code)
	assert.Equal(t, http.StatusConflict, status)

	code, status = HTTPStatus(fmt.Errorf("%w: timeout", ErrModelProvider))
	assert.Equal(t, "PROVIDER_ERROR", code)
	assert.Equal(t, http.StatusBadGateway, status)

	code, status = HTTPStatus(errors.New("db down"))
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.Equal(t, http.StatusInternalServerError, status)
}
