package errors

import (
	"errors"
	"strings"
)

// WrapScope wraps an error as a ScopeError if it isn't already one.
// Existing ScopeErrors keep their code and gain context instead.
func WrapScope(err error, code ErrorCode, chain uint64, message string) *ScopeError {
	if err == nil {
		return nil
	}

	var scopeErr *ScopeError
	if errors.As(err, &scopeErr) {
		scopeErr.Context["wrapped_message"] = message
		if chain != 0 && scopeErr.Chain == 0 {
			scopeErr.Chain = chain
		}
		return scopeErr
	}

	return New(code, chain, message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCode checks if an error is a ScopeError with a specific code
func IsCode(err error, code ErrorCode) bool {
	var scopeErr *ScopeError
	if errors.As(err, &scopeErr) {
		return scopeErr.Code == code
	}
	return false
}

// IsFatal reports whether the error chain carries a fatal ScopeError.
func IsFatal(err error) bool {
	var scopeErr *ScopeError
	if errors.As(err, &scopeErr) {
		return scopeErr.IsFatal()
	}
	return false
}

// IsRetryable checks if an error is retryable. Non-ScopeErrors fall back
// to matching common transient failure strings from RPC transports.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var scopeErr *ScopeError
	if errors.As(err, &scopeErr) {
		return scopeErr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"429",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
