package relay

import (
	"fmt"
	"strings"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
)

// Kind classifies a relay failure. Retryable kinds cool the failing account
// down and let dispatch move to the next one; terminal kinds surface to the
// client as they are.
type Kind int

const (
	KindOAuth Kind = iota
	KindNoAccount
	KindRateLimited
	KindUpstream
	KindInvalidRequest
	KindUnauthorized
	KindOrganizationDisabled
	KindOverloaded
	KindOpusWeeklyLimit
	KindInsufficientQuota
	KindContentFiltered
	KindInternal
)

// Error is the typed relay failure, matched with errors.As throughout
// dispatch and the HTTP layer.
type Error struct {
	Kind    Kind
	Message string

	// Status is the upstream HTTP status for KindUpstream.
	Status int

	// RetryAfterSeconds applies to KindRateLimited.
	RetryAfterSeconds int64

	// RetryAfterMinutes applies to KindOverloaded.
	RetryAfterMinutes int64

	// Platform applies to KindNoAccount.
	Platform account.Platform
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindOAuth:
		return fmt.Sprintf("OAuth error: %s", e.Message)
	case KindNoAccount:
		return fmt.Sprintf("No available account for platform %s", e.Platform)
	case KindRateLimited:
		return fmt.Sprintf("Rate limited, retry after %ds", e.RetryAfterSeconds)
	case KindUpstream:
		return fmt.Sprintf("Upstream API error: %d - %s", e.Status, e.Message)
	case KindInvalidRequest:
		return fmt.Sprintf("Invalid request: %s", e.Message)
	case KindUnauthorized:
		return fmt.Sprintf("Unauthorized: %s", e.Message)
	case KindOrganizationDisabled:
		return fmt.Sprintf("Organization disabled: %s", e.Message)
	case KindOverloaded:
		return fmt.Sprintf("API overloaded, retry after %d minutes", e.RetryAfterMinutes)
	case KindOpusWeeklyLimit:
		return "Opus weekly limit reached"
	case KindInsufficientQuota:
		return "Insufficient balance. Please check your daily limit and total quota."
	case KindContentFiltered:
		return fmt.Sprintf("Content filtered: %s", e.Message)
	default:
		return fmt.Sprintf("Internal error: %s", e.Message)
	}
}

func OAuthError(message string) *Error {
	return &Error{Kind: KindOAuth, Message: message}
}

func NoAccountError(platform account.Platform) *Error {
	return &Error{Kind: KindNoAccount, Platform: platform}
}

func RateLimitedError(retryAfterSeconds int64) *Error {
	return &Error{Kind: KindRateLimited, RetryAfterSeconds: retryAfterSeconds}
}

func UpstreamError(status int, message string) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: message}
}

func InvalidRequestError(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func UnauthorizedError(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func OrganizationDisabledError(message string) *Error {
	return &Error{Kind: KindOrganizationDisabled, Message: message}
}

func OverloadedError(retryAfterMinutes int64) *Error {
	return &Error{Kind: KindOverloaded, RetryAfterMinutes: retryAfterMinutes}
}

func OpusWeeklyLimitError() *Error {
	return &Error{Kind: KindOpusWeeklyLimit}
}

func InsufficientQuotaError() *Error {
	return &Error{Kind: KindInsufficientQuota}
}

func ContentFilteredError(message string) *Error {
	return &Error{Kind: KindContentFiltered, Message: message}
}

func InternalError(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// ClassifyResponse maps an upstream HTTP failure to a typed error. The 429
// body is inspected for the Opus weekly limit, which suspends the account
// far longer than an ordinary rate limit.
func ClassifyResponse(status int, body string) *Error {
	switch {
	case status == 401:
		return UnauthorizedError(body)
	case status == 402:
		return InsufficientQuotaError()
	case status == 403 && strings.Contains(body, "organization has been disabled"):
		return OrganizationDisabledError(body)
	case status == 403:
		return UnauthorizedError(body)
	case status == 429 && strings.Contains(body, "weekly usage limit") && strings.Contains(strings.ToLower(body), "opus"):
		return OpusWeeklyLimitError()
	case status == 429:
		return RateLimitedError(60)
	case status == 529:
		return OverloadedError(5)
	default:
		return UpstreamError(status, body)
	}
}

// Retryable reports whether dispatch should cool the account down and try
// the next candidate.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindOverloaded, KindOpusWeeklyLimit,
		KindUnauthorized, KindOrganizationDisabled, KindInsufficientQuota:
		return true
	default:
		return false
	}
}

// CooldownReason names the suspension reason recorded for kinds that mark an
// account unavailable for the configured cooldown. ok is false for kinds
// with their own retry timing or no cooldown at all.
func (e *Error) CooldownReason() (reason string, ok bool) {
	switch e.Kind {
	case KindOpusWeeklyLimit:
		return "opus_weekly_limit", true
	case KindUnauthorized:
		return "unauthorized", true
	case KindOrganizationDisabled:
		return "organization_disabled", true
	case KindInsufficientQuota:
		return "insufficient_quota", true
	default:
		return "", false
	}
}
