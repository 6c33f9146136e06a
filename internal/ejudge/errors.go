package ejudge

import (
	"errors"
	"fmt"
)

var (
	// ErrAccess is returned when a judge-only page is requested on a
	// session that is not in judge mode. The check is local; no request
	// is issued.
	ErrAccess = errors.New("page requires judge privileges")

	// ErrServiceUnavailable covers transport failures and non-2xx
	// responses from the judge.
	ErrServiceUnavailable = errors.New("judge is unavailable")

	// ErrSchemaMismatch is returned when a table row or JSON record does
	// not match the expected entity schema.
	ErrSchemaMismatch = errors.New("row does not match entity schema")

	// ErrNoData marks the documented "no data" outcome of a filtered
	// list query: the expected table is absent, which means the filter
	// matched nothing or the query was malformed. Callers must not treat
	// it as a hard failure.
	ErrNoData = errors.New("no matching table on page")
)

// AuthError reports a failed or unusable authentication attempt: bad
// credentials, an invalid contest id, or missing stored credentials.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth failed: " + e.Reason
}

func authErrorf(format string, args ...any) error {
	return &AuthError{Reason: fmt.Sprintf(format, args...)}
}

// API error codes. The judge reports errors as {num, message} envelopes;
// the two negative codes are client-side.
const (
	APIErrUnknown         = -1
	APIErrInvalidResponse = -2
	APIErrInvalidSession  = 38
)

// APIError carries the error envelope of a JSON API response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsInvalidSession reports whether err is the API error that must drive
// re-authentication rather than propagate.
func IsInvalidSession(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == APIErrInvalidSession
}

// ParseError names the field and raw value that failed a typed
// conversion in a row decoder.
type ParseError struct {
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s from %q: %v", e.Field, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErrorf(field, raw, format string, args ...any) error {
	return &ParseError{Field: field, Raw: raw, Err: fmt.Errorf(format, args...)}
}
