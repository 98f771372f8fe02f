package query

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
)

// Kind classifies a failure for the caller
type Kind string

const (
	KindValidation       Kind = "validation"
	KindConnectivity     Kind = "connectivity"
	KindExecution        Kind = "execution"
	KindResultProcessing Kind = "result_processing"
)

// Phases of an invocation, reported with execution failures
const (
	PhaseValidate  = "validate"
	PhaseAcquire   = "acquire"
	PhaseCount     = "count"
	PhasePage      = "page"
	PhaseFoundRows = "found_rows"
	PhaseNormalize = "normalize"
	PhaseCatalog   = "catalog"
)

// Error is the single failure type returned by Executor and Catalog
type Error struct {
	Kind    Kind   `json:"kind"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
	SQL     string `json:"sql,omitempty"` // fingerprint of the failing statement
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Phase != "" {
		msg = string(e.Kind) + " (" + e.Phase + "): " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Redacted renders the error without the wrapped driver text, which can quote
// the statement and its literals. MySQL server errors keep their number.
func (e *Error) Redacted() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Phase != "" {
		msg = string(e.Kind) + " (" + e.Phase + "): " + e.Message
	}
	var myErr *mysql.MySQLError
	if errors.As(e.Err, &myErr) {
		msg += fmt.Sprintf(" (mysql error %d)", myErr.Number)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same request may succeed
func (e *Error) Retryable() bool {
	return e.Kind == KindConnectivity
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Phase: PhaseValidate, Message: fmt.Sprintf(format, args...)}
}

func acquireError(err error) *Error {
	return &Error{Kind: KindConnectivity, Phase: PhaseAcquire, Message: "connection failed", Err: err}
}

// statementError classifies a failure of one statement. Transport-level
// failures are connectivity errors even when they surface mid-statement.
func statementError(phase, fingerprint string, err error) *Error {
	if isConnectivity(err) {
		return &Error{Kind: KindConnectivity, Phase: phase, Message: "connection failed", SQL: fingerprint, Err: err}
	}
	return &Error{Kind: KindExecution, Phase: phase, Message: phase + " query failed", SQL: fingerprint, Err: err}
}

// MySQL server errors that mean the session could not be established or was lost
var connectivityCodes = map[uint16]struct{}{
	1040: {}, // ER_CON_COUNT_ERROR
	1044: {}, // ER_DBACCESS_DENIED_ERROR
	1045: {}, // ER_ACCESS_DENIED_ERROR
	1049: {}, // ER_BAD_DB_ERROR
	1203: {}, // ER_TOO_MANY_USER_CONNECTIONS
	1226: {}, // ER_USER_LIMIT_REACHED
	2002: {}, // CR_CONNECTION_ERROR
	2003: {}, // CR_CONN_HOST_ERROR
	2005: {}, // CR_UNKNOWN_HOST
	2006: {}, // CR_SERVER_GONE_ERROR
	2013: {}, // CR_SERVER_LOST
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := connectivityCodes[myErr.Number]
		return ok
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
