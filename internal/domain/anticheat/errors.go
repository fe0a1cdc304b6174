package anticheat

import "errors"

var (
	// ErrChallengeNotFound is returned for an unknown or already used challenge.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when a challenge is answered too late.
	ErrChallengeExpired = errors.New("challenge expired")
)
