package gateway

import (
	"strings"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
)

// User-facing templates for classified model errors. The templates are
// markdown; the terminal UI renders them through glamour and a browser
// front-end can render them directly.
const (
	msgRateLimit = "**Rate limit exceeded** — The AI model's quota has been reached. Please wait a minute and try again, or switch to a different API key/model."
	msgAuthError = "**Authentication error** — The API key is invalid or expired. Please check your model configuration."
	msgServerErr = "**Server error** — The AI provider is having issues. Please try again in a moment."
	msgTimeout   = "**Timeout** — The AI model took too long to respond. Try a shorter message or try again."
	msgContext   = "**Context too long** — The conversation is too long for the model. Try starting a new chat."
)

type classifyRule struct {
	code    domain.ErrorCode
	needles []string
	text    string
}

// Rules are checked in priority order; first match wins.
var classifyRules = []classifyRule{
	{domain.CodeRateLimit, []string{"429", "rate limit", "quota", "resource_exhausted"}, msgRateLimit},
	{domain.CodeAuthInvalid, []string{"401", "unauthorized", "invalid api key", "api_key_invalid"}, msgAuthError},
	{domain.CodeProviderError, []string{"500", "internal server error", "internal_error"}, msgServerErr},
	{domain.CodeTimeout, []string{"timeout", "deadline"}, msgTimeout},
}

// ClassifyModelError maps a raw error string from the upstream model or
// gateway to a machine code and a fixed user-facing message. It is a
// best-effort heuristic over free text from a system this client does
// not control: case-insensitive substring matching in priority order,
// with a generic fallback that echoes the raw text. Always returns a
// displayable string.
func ClassifyModelError(raw string) (domain.ErrorCode, string) {
	lower := strings.ToLower(raw)

	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code, rule.text
			}
		}
	}

	// Context-length errors need two matches, so they sit outside the
	// single-needle rule table.
	if strings.Contains(lower, "context") &&
		(strings.Contains(lower, "overflow") || strings.Contains(lower, "too long") || strings.Contains(lower, "exceeded")) {
		return domain.CodeContextOverflow, msgContext
	}

	return domain.CodeUnknown, "**Error:** " + raw
}
