// Package errclass maps raw transport and vendor failures onto the
// SurfaceError taxonomy.
//
// Classification is best effort. Structured signals (an existing
// SurfaceError, an HTTP status code, context deadlines, net.Error) are
// checked first; the ordered text table is the fallback because vendors
// change their error wording without notice.
package errclass

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Rule is one row of the text classification table.
type Rule struct {
	Code       domain.ErrorCode
	Retryable  bool
	RetryAfter time.Duration
	Patterns   []*regexp.Regexp
}

func words(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Rules is evaluated top to bottom; the first matching row wins.
var Rules = []Rule{
	{Code: domain.CodeAuthFailed, Patterns: words(`\b401\b`, `\b403\b`, `unauthori[sz]ed`, `forbidden`)},
	{Code: domain.CodeRateLimited, Retryable: true, RetryAfter: 60 * time.Second,
		Patterns: words(`\b429\b`, `rate.?limit`, `too many requests`)},
	{Code: domain.CodeTimeout, Retryable: true, RetryAfter: 5 * time.Second,
		Patterns: words(`timeout`, `timed out`, `ETIMEDOUT`, `deadline exceeded`)},
	{Code: domain.CodeNetworkError, Retryable: true, RetryAfter: 10 * time.Second,
		Patterns: words(`ECONNREFUSED`, `ENOTFOUND`, `ECONNRESET`, `socket hang up`,
			`connection refused`, `connection reset`, `no such host`)},
	{Code: domain.CodeServiceUnavailable, Retryable: true, RetryAfter: 30 * time.Second,
		Patterns: words(`\b502\b`, `\b503\b`, `\b504\b`, `service unavailable`, `bad gateway`, `overloaded`)},
	{Code: domain.CodeCaptchaRequired,
		Patterns: words(`captcha`, `unusual traffic`, `\bbots?\b`, `verify you are human`)},
	{Code: domain.CodeContentBlocked,
		Patterns: words(`content.?(policy|filter|management)`, `safety (policy|system|filter)`,
			`blocked (by|due to) (safety|policy)`, `violat\w* .*polic`)},
	{Code: domain.CodeQuotaExceeded, Patterns: words(`quota`, `insufficient.?credit`, `billing`)},
	{Code: domain.CodeSessionExpired, Patterns: words(`session (has )?expired`, `login required`, `please log ?in`)},
	{Code: domain.CodeInvalidRequest, Patterns: words(`\b400\b`, `\b422\b`, `invalid.?request`, `bad request`)},
	{Code: domain.CodeInvalidResponse, Retryable: true, RetryAfter: 2 * time.Second,
		Patterns: words(`invalid character`, `unexpected end of JSON`, `malformed`, `cannot unmarshal`, `empty response`)},
}

// Classify turns err into a SurfaceError. A nil err yields nil.
func Classify(err error) *domain.SurfaceError {
	if err == nil {
		return nil
	}

	var se *domain.SurfaceError
	if errors.As(err, &se) {
		return se
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if out := FromStatus(sc.StatusCode(), err.Error()); out != nil {
			out.Cause = err
			return out
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fromRule(ruleFor(domain.CodeTimeout), err.Error(), err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return fromRule(ruleFor(domain.CodeNetworkError), err.Error(), err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fromRule(ruleFor(domain.CodeTimeout), err.Error(), err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fromRule(ruleFor(domain.CodeNetworkError), err.Error(), err)
	}

	out := ClassifyMessage(err.Error())
	out.Cause = err
	return out
}

// ClassifyMessage classifies plain error text against the ordered table.
func ClassifyMessage(msg string) *domain.SurfaceError {
	for i := range Rules {
		for _, p := range Rules[i].Patterns {
			if p.MatchString(msg) {
				return fromRule(&Rules[i], msg, nil)
			}
		}
	}
	return domain.NewSurfaceError(domain.CodeUnknown, msg, false, 0, nil)
}

// FromStatus classifies an HTTP status code. It returns nil for statuses
// that carry no classification signal (2xx, unknown 4xx), leaving the
// decision to the text table.
func FromStatus(status int, msg string) *domain.SurfaceError {
	var code domain.ErrorCode
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = domain.CodeAuthFailed
	case http.StatusTooManyRequests:
		code = domain.CodeRateLimited
	case http.StatusPaymentRequired:
		code = domain.CodeQuotaExceeded
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = domain.CodeInvalidRequest
	case http.StatusRequestTimeout:
		code = domain.CodeTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = domain.CodeServiceUnavailable
	default:
		if status >= 500 {
			code = domain.CodeServiceUnavailable
			break
		}
		return nil
	}
	// A 429 whose body says quota is a billing problem, not a transient one.
	if code == domain.CodeRateLimited && strings.Contains(strings.ToLower(msg), "quota") {
		code = domain.CodeQuotaExceeded
	}
	return fromRule(ruleFor(code), msg, nil)
}

// IsRetryable reports whether err would be retried by the base adapter.
func IsRetryable(err error) bool {
	se := Classify(err)
	return se != nil && se.Retryable
}

func ruleFor(code domain.ErrorCode) *Rule {
	for i := range Rules {
		if Rules[i].Code == code {
			return &Rules[i]
		}
	}
	return &Rule{Code: code}
}

func fromRule(r *Rule, msg string, cause error) *domain.SurfaceError {
	return domain.NewSurfaceError(r.Code, msg, r.Retryable, r.RetryAfter, cause)
}
