package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeParse indicates a malformed filter, threshold, range or argument
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeConnectivity indicates an unreachable or failing RPC endpoint
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY_ERROR"

	// ErrCodeTimeout indicates a network operation exceeded its deadline
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeRateLimited indicates the endpoint is throttling us
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeEndpointsExhausted indicates every candidate endpoint failed
	ErrCodeEndpointsExhausted ErrorCode = "ENDPOINTS_EXHAUSTED"

	// ErrCodeChainMismatch indicates the endpoint serves a different chain
	ErrCodeChainMismatch ErrorCode = "CHAIN_MISMATCH"

	// ErrCodeTrace indicates trace production failed for one transaction
	ErrCodeTrace ErrorCode = "TRACE_ERROR"

	// ErrCodeTraceDivergence indicates local execution disagreed with the
	// chain's recorded outcome
	ErrCodeTraceDivergence ErrorCode = "TRACE_DIVERGENCE"

	// ErrCodeCache indicates a corrupt or unreadable cache entry
	ErrCodeCache ErrorCode = "CACHE_ERROR"

	// ErrCodeNotFound indicates a lookup with no result
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Severity determines how the orchestrator reacts to an error
type Severity string

const (
	// SeverityFatal aborts the whole run; all subsequent results would be
	// meaningless
	SeverityFatal Severity = "FATAL"

	// SeverityError fails the current operation after retries
	SeverityError Severity = "ERROR"

	// SeverityWarning is logged; processing continues
	SeverityWarning Severity = "WARNING"

	// SeverityInfo is informational
	SeverityInfo Severity = "INFO"
)

// ScopeError is the error type carried across component boundaries. Chain
// is the numeric EVM chain id when the error is chain-scoped, zero
// otherwise.
type ScopeError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Chain    uint64                 `json:"chain,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a ScopeError with the default severity for its code.
func New(code ErrorCode, chain uint64, message string, cause error) *ScopeError {
	return &ScopeError{
		Code:     code,
		Message:  message,
		Chain:    chain,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *ScopeError) Error() string {
	if e.Chain != 0 {
		return fmt.Sprintf("[chain %d:%s] %s: %s", e.Chain, e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap returns the underlying cause
func (e *ScopeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *ScopeError) WithContext(key string, value interface{}) *ScopeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *ScopeError) WithSeverity(severity Severity) *ScopeError {
	e.Severity = severity
	return e
}

// IsFatal reports whether the error must abort the whole run.
func (e *ScopeError) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// IsRetryable returns true if the error is worth retrying, possibly
// against an alternate endpoint.
func (e *ScopeError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeConnectivity, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeParse, ErrCodeChainMismatch:
		return SeverityFatal
	case ErrCodeConnectivity, ErrCodeEndpointsExhausted, ErrCodeInternal:
		return SeverityError
	case ErrCodeTimeout, ErrCodeRateLimited, ErrCodeTrace, ErrCodeTraceDivergence, ErrCodeCache:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ErrorGroup collects independent failures, e.g. one per probed endpoint.
type ErrorGroup struct {
	Errors []error
}

// NewErrorGroup creates a new error group
func NewErrorGroup() *ErrorGroup {
	return &ErrorGroup{Errors: make([]error, 0)}
}

// Add adds an error to the group
func (eg *ErrorGroup) Add(err error) {
	if err != nil {
		eg.Errors = append(eg.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (eg *ErrorGroup) HasErrors() bool {
	return len(eg.Errors) > 0
}

// Error implements the error interface
func (eg *ErrorGroup) Error() string {
	if len(eg.Errors) == 0 {
		return ""
	}
	if len(eg.Errors) == 1 {
		return eg.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(eg.Errors), eg.Errors[0])
}

// Common error constructors

// NewParseError creates a fatal parse error naming the offending argument.
func NewParseError(argument, message string) *ScopeError {
	e := New(ErrCodeParse, 0, message, nil)
	if argument != "" {
		e.Context["argument"] = argument
	}
	return e
}

// NewConnectivityError creates a connectivity error
func NewConnectivityError(chain uint64, message string, cause error) *ScopeError {
	return New(ErrCodeConnectivity, chain, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(chain uint64, message string) *ScopeError {
	return New(ErrCodeTimeout, chain, message, nil)
}

// NewChainMismatchError creates a fatal chain-id mismatch error.
func NewChainMismatchError(want, got uint64, endpoint string) *ScopeError {
	e := New(ErrCodeChainMismatch, want,
		fmt.Sprintf("endpoint reports chain id %d, configured chain id is %d", got, want), nil)
	e.Context["endpoint"] = endpoint
	e.Context["reported"] = got
	return e
}

// NewTraceError creates a trace error for one transaction
func NewTraceError(chain uint64, message string, cause error) *ScopeError {
	return New(ErrCodeTrace, chain, message, cause)
}

// NewDivergenceError creates a warning for local/recorded outcome mismatch.
func NewDivergenceError(chain uint64, message string) *ScopeError {
	return New(ErrCodeTraceDivergence, chain, message, nil)
}

// NewCacheError creates a cache error; callers treat it as a miss.
func NewCacheError(chain uint64, message string, cause error) *ScopeError {
	return New(ErrCodeCache, chain, message, cause)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(chain uint64, message string) *ScopeError {
	return New(ErrCodeNotFound, chain, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(chain uint64, message string, cause error) *ScopeError {
	return New(ErrCodeInternal, chain, message, cause)
}
