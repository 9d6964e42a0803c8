// Package apperr holds the error kinds shared across the ingestion and chat
// paths. Callers wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentNotReady = errors.New("document not ready")

	ErrInvalidSourceURL = errors.New("invalid source URL")
	ErrTooManyPages     = errors.New("too many pages")
	ErrSourceNotFound   = errors.New("source not found")
	ErrFetch            = errors.New("fetch failed")
	ErrParse            = errors.New("parse failed")
	ErrNoText           = errors.New("no extractable text")

	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrModelProvider     = errors.New("model provider error")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
)

// Failure reasons recorded on a FAILED document.
const (
	ReasonTooManyPages  = "too many pages"
	ReasonInvalidURL    = "invalid source URL"
	ReasonNotFound      = "source not found"
	ReasonFetchFailed   = "fetch failed"
	ReasonParseFailed   = "parse failed"
	ReasonNoText        = "no extractable text"
	ReasonProviderError = "provider error"
)

// Reason maps an ingestion error to the reason stored on the document.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTooManyPages):
		return ReasonTooManyPages
	case errors.Is(err, ErrInvalidSourceURL):
		return ReasonInvalidURL
	case errors.Is(err, ErrSourceNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrFetch):
		return ReasonFetchFailed
	case errors.Is(err, ErrParse):
		return ReasonParseFailed
	case errors.Is(err, ErrNoText):
		return ReasonNoText
	default:
		return ReasonProviderError
	}
}

// Transient reports whether err is an outage worth redelivering the task for.
// Source-level failures (bad URL, oversized PDF, 404) never become retryable.
func Transient(err error) bool {
	return errors.Is(err, ErrEmbeddingProvider) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrModelProvider)
}

// HTTPStatus maps an error to the API error code and status.
func HTTPStatus(err error) (string, int) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED", http.StatusUnauthorized
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidSourceURL):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, ErrDocumentNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, ErrDocumentNotReady):
		return "NOT_READY", http.StatusConflict
	case errors.Is(err, ErrEmbeddingProvider), errors.Is(err, ErrModelProvider), errors.Is(err, ErrStoreUnavailable):
		return "PROVIDER_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}
