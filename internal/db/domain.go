package db

import "errors"

// domainError marks an expected domain outcome produced inside a queue
// task. The queue returns it to the caller immediately instead of burning
// the retry budget on it.
type domainError struct {
	err error
}

func (e domainError) Error() string { return e.err.Error() }

func (e domainError) Unwrap() error { return e.err }

// Domain wraps an error so the queue treats it as a domain outcome,
// not a transient store fault.
func Domain(err error) error {
	return domainError{err: err}
}

func isDomain(err error) bool {
	var d domainError
	return errors.As(err, &d)
}
