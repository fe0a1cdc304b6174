package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrUnknownDriver     = errors.New("unknown store driver")
	ErrParticipantAbsent = errors.New("participant not in race")
)
