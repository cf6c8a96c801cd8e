// Package faults classifies failures from the payment path into typed
// errors with a severity and a declarative retry policy.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Category groups failures by origin.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryAPI           Category = "api"
	CategoryPayment       Category = "payment"
	CategoryValidation    Category = "validation"
	CategorySystem        Category = "system"
	CategoryConfiguration Category = "configuration"
	CategorySecurity      Category = "security"
	CategorySDK           Category = "sdk"
	CategoryUnknown       Category = "unknown"
)

// Severity ranks how urgently a failure needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RetryStrategy describes how retries should be spaced.
type RetryStrategy string

const (
	RetryNone        RetryStrategy = "none"
	RetryImmediate   RetryStrategy = "immediate"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// Policy is the retry/severity policy for a category.
type Policy struct {
	Severity   Severity
	Strategy   RetryStrategy
	MaxRetries int
	Actions    []string
}

// DefaultPolicies is the policy table keyed by category. Kept as data so
// the policy can be tested and tuned without touching call sites.
var DefaultPolicies = map[Category]Policy{
	CategoryNetwork: {
		Severity:   SeverityMedium,
		Strategy:   RetryExponential,
		MaxRetries: 3,
		Actions:    []string{"Check your internet connection", "Try again in a moment"},
	},
	CategoryAPI: {
		Severity:   SeverityMedium,
		Strategy:   RetryLinear,
		MaxRetries: 2,
		Actions:    []string{"Try again in a moment", "Contact support if the problem persists"},
	},
	CategorySystem: {
		Severity:   SeverityHigh,
		Strategy:   RetryLinear,
		MaxRetries: 1,
		Actions:    []string{"Try again later"},
	},
	CategorySDK: {
		Severity:   SeverityMedium,
		Strategy:   RetryLinear,
		MaxRetries: 2,
		Actions:    []string{"Try again in a moment"},
	},
	CategoryPayment: {
		Severity:   SeverityHigh,
		Strategy:   RetryNone,
		MaxRetries: 0,
		Actions:    []string{"Verify your payment details", "Use a different payment method"},
	},
	CategoryValidation: {
		Severity:   SeverityHigh,
		Strategy:   RetryNone,
		MaxRetries: 0,
		Actions:    []string{"Correct the highlighted fields and retry"},
	},
	CategoryConfiguration: {
		Severity:   SeverityHigh,
		Strategy:   RetryNone,
		MaxRetries: 0,
		Actions:    []string{"Contact support"},
	},
	CategorySecurity: {
		Severity:   SeverityHigh,
		Strategy:   RetryNone,
		MaxRetries: 0,
		Actions:    []string{"Contact support"},
	},
	CategoryUnknown: {
		Severity:   SeverityMedium,
		Strategy:   RetryNone,
		MaxRetries: 0,
		Actions:    []string{"Try again", "Contact support if the problem persists"},
	},
}

// ClassifiedError is a failure annotated with category, severity and
// retry policy.
type ClassifiedError struct {
	Code        string
	Message     string // technical message, for logs
	UserMessage string // safe to show to an end user
	Category    Category
	Severity    Severity
	Strategy    RetryStrategy
	CanRetry    bool
	MaxRetries  int
	Actions     []string
	Context     string
	Cause       error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %s", e.Category, e.Code, e.Context, e.Message)
}

// Unwrap returns the underlying cause
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Categorizer is implemented by errors that know their own category.
type Categorizer interface {
	FaultCategory() Category
}

// StatusCoder is implemented by errors carrying an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Classifier maps raw errors onto the policy table.
type Classifier struct {
	policies map[Category]Policy
}

// New creates a classifier with the default policy table.
func New() *Classifier {
	return &Classifier{policies: DefaultPolicies}
}

// NewWithPolicies creates a classifier with a custom policy table.
func NewWithPolicies(policies map[Category]Policy) *Classifier {
	return &Classifier{policies: policies}
}

// Classify maps any failure into a ClassifiedError. Already-classified
// errors pass through unchanged.
func (c *Classifier) Classify(err error, opContext string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	// Errors that self-report a category (gateway signature failures,
	// validation errors) keep it.
	var categorized Categorizer
	if errors.As(err, &categorized) {
		return c.build(categorized.FaultCategory(), codeFor(categorized.FaultCategory()), err.Error(), opContext, err)
	}

	// HTTP errors carry the upstream status.
	var statusErr StatusCoder
	if errors.As(err, &statusErr) {
		return c.ClassifyHTTP(statusErr.StatusCode(), err.Error(), opContext)
	}

	// Timeouts and transport failures.
	if errors.Is(err, context.DeadlineExceeded) {
		return c.build(CategoryNetwork, "TIMEOUT", err.Error(), opContext, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		code := "NETWORK_ERROR"
		if netErr.Timeout() {
			code = "TIMEOUT"
		}
		return c.build(CategoryNetwork, code, err.Error(), opContext, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.build(CategoryNetwork, "NETWORK_ERROR", err.Error(), opContext, err)
	}

	return c.build(CategoryUnknown, "UNKNOWN", err.Error(), opContext, err)
}

// ClassifyHTTP maps an upstream HTTP status onto a category.
func (c *Classifier) ClassifyHTTP(status int, body, opContext string) *ClassifiedError {
	msg := fmt.Sprintf("http %d: %s", status, truncate(body, 500))

	switch {
	case status == 400:
		return c.build(CategoryValidation, "BAD_REQUEST", msg, opContext, nil)
	case status == 401 || status == 403:
		return c.build(CategorySecurity, "AUTH_FAILED", msg, opContext, nil)
	case status == 404:
		ce := c.build(CategoryAPI, "NOT_FOUND", msg, opContext, nil)
		ce.Strategy = RetryNone
		ce.CanRetry = false
		ce.MaxRetries = 0
		return ce
	case status == 429:
		ce := c.build(CategoryAPI, "RATE_LIMITED", msg, opContext, nil)
		ce.Strategy = RetryLinear
		return ce
	case status >= 500:
		return c.build(CategoryAPI, "UPSTREAM_ERROR", msg, opContext, nil)
	default:
		return c.build(CategoryAPI, "API_ERROR", msg, opContext, nil)
	}
}

// ClassifySDK maps a gateway SDK error message onto a category.
func (c *Classifier) ClassifySDK(message, opContext string) *ClassifiedError {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"):
		return c.build(CategoryNetwork, "SDK_NETWORK", message, opContext, nil)
	case strings.Contains(lower, "declined"), strings.Contains(lower, "insufficient"):
		return c.build(CategoryPayment, "SDK_DECLINED", message, opContext, nil)
	case strings.Contains(lower, "signature"), strings.Contains(lower, "auth"):
		return c.build(CategorySecurity, "SDK_AUTH", message, opContext, nil)
	default:
		return c.build(CategorySDK, "SDK_ERROR", message, opContext, nil)
	}
}

func (c *Classifier) build(category Category, code, msg, opContext string, cause error) *ClassifiedError {
	policy, ok := c.policies[category]
	if !ok {
		policy = c.policies[CategoryUnknown]
	}

	return &ClassifiedError{
		Code:        code,
		Message:     msg,
		UserMessage: userMessageFor(category),
		Category:    category,
		Severity:    policy.Severity,
		Strategy:    policy.Strategy,
		CanRetry:    policy.Strategy != RetryNone && policy.MaxRetries > 0,
		MaxRetries:  policy.MaxRetries,
		Actions:     policy.Actions,
		Context:     opContext,
		Cause:       cause,
	}
}

func codeFor(category Category) string {
	switch category {
	case CategoryValidation:
		return "VALIDATION_ERROR"
	case CategorySecurity:
		return "SECURITY_ERROR"
	case CategoryConfiguration:
		return "CONFIGURATION_ERROR"
	case CategoryPayment:
		return "PAYMENT_ERROR"
	default:
		return strings.ToUpper(string(category)) + "_ERROR"
	}
}

func userMessageFor(category Category) string {
	switch category {
	case CategoryNetwork:
		return "We couldn't reach the payment provider. Please try again."
	case CategoryAPI, CategorySystem, CategorySDK:
		return "The payment service is temporarily unavailable. Please try again."
	case CategoryPayment:
		return "The payment could not be completed."
	case CategoryValidation:
		return "Some of the provided details are invalid."
	case CategorySecurity:
		return "The request could not be verified."
	case CategoryConfiguration:
		return "The payment service is misconfigured. Please contact support."
	default:
		return "Something went wrong. Please try again."
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
