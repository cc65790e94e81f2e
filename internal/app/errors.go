package app

import (
	"errors"
	"fmt"

	"bizfin-insight/internal/ai"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrForbidden         = errors.New("insufficient role")

	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrDocumentNotFound = errors.New("document not found")

	ErrProviderConfig      = errors.New("llm provider api key is invalid or missing")
	ErrProviderAuth        = errors.New("llm provider authentication failed")
	ErrProviderRateLimited = errors.New("llm provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("llm provider is unavailable")
	ErrAnalysisFailed      = errors.New("ai analysis failed")
	ErrReportFailed        = errors.New("report generation failed")
)

// classifyProviderError tags a completion failure with the sentinel the HTTP
// layer maps to a status. Unclassified failures get fallback.
func classifyProviderError(err, fallback error) error {
	var sentinel error
	switch ai.KindOf(err) {
	case ai.KindConfiguration:
		sentinel = ErrProviderConfig
	case ai.KindAuthentication:
		sentinel = ErrProviderAuth
	case ai.KindRateLimited:
		sentinel = ErrProviderRateLimited
	case ai.KindUnavailable:
		sentinel = ErrProviderUnavailable
	default:
		sentinel = fallback
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
