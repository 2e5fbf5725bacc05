package httpkit

import "errors"

// StatusError is implemented by vendor API errors that carry the HTTP
// status of a failed call. It lets callers react to specific statuses
// (e.g. invalidating a cached token on 401) without depending on each
// client package's concrete error type.
type StatusError interface {
	error
	HTTPStatus() int
}

// IsStatus reports whether err (or anything it wraps) is a StatusError
// with the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se StatusError
	return errors.As(err, &se) && se.HTTPStatus() == code
}
