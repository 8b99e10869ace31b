// Package rmerrors defines the categorical error kinds the orchestration
// engine propagates (spec §7). Every component wraps the error it
// encounters in one of these kinds rather than returning a bare error,
// so the CLI layer can map it to the right exit code (internal/exitcode)
// without re-inspecting error strings.
package rmerrors

import "fmt"

// Kind is one of the categorical error kinds from spec §7.
type Kind string

const (
	KindConfig               Kind = "ConfigError"
	KindTransport            Kind = "TransportError"
	KindDbConn               Kind = "DbConnError"
	KindDbQuery              Kind = "DbQueryError"
	KindCatalogNotFound      Kind = "CatalogNotFound"
	KindPromotion            Kind = "PromotionError"
	KindFollow               Kind = "FollowError"
	KindSwitchoverFail       Kind = "SwitchoverFail"
	KindSwitchoverIncomplete Kind = "SwitchoverIncomplete"
	KindBackup               Kind = "BackupError"
	KindRegisterSync         Kind = "RegistrationSyncError"
	KindNoRestart            Kind = "NoRestartError"
	KindRsync                Kind = "RsyncError"
	KindCatalogBackup        Kind = "CatalogBackupError"
	KindOutOfMemory          Kind = "OutOfMemoryError"
	KindInternal             Kind = "Internal"
)

// Error is a categorical error: a Kind, a human message, and an optional
// wrapped cause plus remediation hint (surfaced as log HINT: lines).
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	Hint   string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithDetail attaches a DETAIL: line (e.g. the raw database error text).
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithHint attaches a HINT: line suggesting remediation.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As is a thin indirection over errors.As kept here so callers only
// import this package when they just need Kind classification.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
