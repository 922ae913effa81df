// Package errs defines Chengis's semantic error taxonomy: a fixed set of
// sentinel-wrapped error kinds that carry meaning independent of where they
// originate, so callers can branch on errors.Is/errors.As instead of on
// source-package identity.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets described by the
// build execution engine's error handling design. Kind does not replace the
// Go error interface; it is carried alongside a wrapped cause.
type Kind int

const (
	// KindValidation covers malformed pipelines, invalid cron expressions,
	// DAG cycles, unknown matrix keys, and invalid docker image/volume
	// tokens. Fails the build before execution; never retried.
	KindValidation Kind = iota
	// KindStageFailure covers non-zero exit and timeout outcomes propagated
	// to stage/build status.
	KindStageFailure
	// KindPolicyDeny covers a policy engine deny result.
	KindPolicyDeny
	// KindApprovalRejected covers an approval gate resolved as rejected.
	KindApprovalRejected
	// KindApprovalTimeout covers an approval gate resolved as timed-out.
	KindApprovalTimeout
	// KindApprovalCancelled covers an approval gate resolved as cancelled
	// because the owning build was cancelled.
	KindApprovalCancelled
	// KindExternalToolMissing covers exit code 127 from an external tool
	// (syft, opa, cosign, gpg): the feature degrades silently rather than
	// failing the build.
	KindExternalToolMissing
	// KindStoreError covers a durable write failure against the Store.
	KindStoreError
	// KindHTTPError covers a non-2xx response from an outbound HTTP call
	// (SCM status, auto-merge, webhook replay).
	KindHTTPError
	// KindCancelled is not a failure: it marks a build/step/stage outcome
	// that resulted from cooperative cancellation.
	KindCancelled
	// KindTimeout covers a process or network call exceeding its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStageFailure:
		return "stage-failure"
	case KindPolicyDeny:
		return "policy-deny"
	case KindApprovalRejected:
		return "approval-rejected"
	case KindApprovalTimeout:
		return "approval-timeout"
	case KindApprovalCancelled:
		return "approval-cancelled"
	case KindExternalToolMissing:
		return "external-tool-missing"
	case KindStoreError:
		return "store-error"
	case KindHTTPError:
		return "http-error"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is Chengis's structured error value: a Kind, a human message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errs.New(KindValidation, "", nil)) matches any validation
// error regardless of message; errs.Is(err, errs.KindValidation) is the
// shorter form of the same check.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validationf builds a KindValidation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// OfKind reports the Kind carried by err, and whether err is a Chengis
// *Error at all.
func OfKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether the first *Error found in err's chain carries the
// given Kind.
func Is(err error, kind Kind) bool {
	k, ok := OfKind(err)
	return ok && k == kind
}
