// Package errs defines the error taxonomy shared by the cache packages.
//
// UsageError and ParseError are fatal to the call that produced them and are
// never retried or repaired internally: bad construction arguments indicate a
// programming mistake, and a corrupted persisted record indicates a
// structural problem that should not be papered over. Transport and storage
// failures are wrapped with github.com/pkg/errors instead and carry no type
// of their own.
package errs

import "fmt"

// UsageError reports invalid construction arguments, such as an unsupported
// URL scheme, a non-existent file path or an out-of-range wait duration.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

func Usagef(format string, args ...interface{}) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ParseError reports malformed persisted metadata or a malformed fetch
// response.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

func Parsef(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// ProtocolError reports an HTTP response status that a conditional fetch
// cannot interpret (anything other than 200 or 304).
type ProtocolError struct {
	StatusCode int
	Status     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response: %s", e.Status)
}
