// Package errors provides standardized error handling patterns for gridsense components.
//
// # Overview
//
// The errors package implements a three-class error classification system for the
// prediction service: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// This classification lets components make informed decisions about retries,
// graceful degradation, and failure escalation without hardcoded error string
// matching. Domain-specific error types (feature validation failures, unknown
// labels, classifier contract violations) live in their own packages and compose
// with these wrappers at component boundaries.
//
// # Error Classification
//
//   - Transient: network timeouts, broker disconnects, temporary unavailability (retry recommended)
//   - Invalid: malformed input records, validation failures, bad configuration (do not retry)
//   - Fatal: artifact mismatch, resource exhaustion, unrecoverable states (stop processing)
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// The generic Wrap() adds context without forcing a classification:
//
//	errors.Wrap(err, "Component", "Method", "action")
//
// # Standard Error Variables
//
// Pre-defined error variables cover common conditions:
//
//   - Component lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrAlreadyStopped, ErrShuttingDown
//   - Connection issues: ErrNoConnection, ErrConnectionLost, ErrConnectionTimeout
//   - Data processing: ErrInvalidData, ErrParsingFailed
//   - Model artifact: ErrArtifactMismatch, ErrModelNotLoaded
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//
// Use these instead of ad-hoc error messages so callers can match with errors.Is.
//
// # Context Cancellation
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified as
// Transient, so context-based timeouts and network timeouts are handled uniformly.
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables are
// immutable and safe for concurrent access.
package errors
