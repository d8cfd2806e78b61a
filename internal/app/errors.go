package app

import "errors"

var (
	// ErrAuthentication means the token could not produce an identity.
	ErrAuthentication = errors.New("authentication failed")
	// ErrSessionMismatch means a client-declared session id conflicts with
	// the one embedded in the token.
	ErrSessionMismatch = errors.New("session id mismatch")
	// ErrAdmissionDenied means the server is draining or room creation is
	// not permitted for this caller.
	ErrAdmissionDenied = errors.New("admission denied")
)
