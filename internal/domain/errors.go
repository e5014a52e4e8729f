package domain

import "errors"

// Store-level sentinels. Repositories return these from their
// compare-and-set paths; services translate them into API errors.
var (
	// ErrMatchConflict signals that a candidate's availability changed
	// between read and bind. The matchmaking engine re-evaluates tiers.
	ErrMatchConflict = errors.New("match candidate no longer available")

	// ErrAlreadyInCall signals a call-claim attempt for a user who
	// already holds a non-terminal call.
	ErrAlreadyInCall = errors.New("user already in a call")

	// ErrNoActiveCall signals an operation requiring a current call when
	// the user holds none.
	ErrNoActiveCall = errors.New("user has no active call")

	// ErrUsernameExists signals a registration attempt with a taken
	// username.
	ErrUsernameExists = errors.New("username already exists")

	// ErrNotParticipant signals an access attempt on a call by a user
	// who is neither its initiator nor its participant.
	ErrNotParticipant = errors.New("user is not a party of this call")

	// ErrNotFound is returned by every store backend when a requested
	// record does not exist.
	ErrNotFound = errors.New("record not found")
)
