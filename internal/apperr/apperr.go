// README: Error taxonomy shared by modules and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindUnauthorized      Kind = "unauthorized"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Two errors match under errors.Is when their codes match,
// so module sentinels can be compared after Wrap or WithShortfall.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Shortfall int64
	Err       error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithShortfall returns a copy carrying the amount the rider is short by.
func (e *Error) WithShortfall(amount int64) *Error {
	c := *e
	c.Shortfall = amount
	return &c
}

func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

var ErrTransientStore = New(KindTransient, "transient_store_error", "store temporarily unavailable")

// KindOf reports the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func ShortfallOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.Shortfall
	}
	return 0
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Retryable is true only for transient failures. Callers retrying trip operations must
// re-read trip state first since the failed attempt may have committed.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// FromStore classifies a persistence error. Connection loss, timeouts, serialization
// failures and resource exhaustion become ErrTransientStore; anything else is returned as is.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return ErrTransientStore.Wrap(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ErrTransientStore.Wrap(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientSQLState(pgErr.Code) {
		return ErrTransientStore.Wrap(err)
	}
	return err
}

func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case strings.HasPrefix(code, "53"): // insufficient resources
		return true
	case code == "40001", code == "40P01":
		return true
	case code == "57P01", code == "57P02", code == "57P03":
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique_violation, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
