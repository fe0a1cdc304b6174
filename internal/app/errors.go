package service

import "errors"

// Sentinel errors returned by race operations.
var (
	ErrRaceNotFound        = errors.New("race not found")
	ErrRaceFinished        = errors.New("race already finished")
	ErrRaceStarted         = errors.New("race already started")
	ErrRaceNotRacing       = errors.New("race is not running")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidIdentity     = errors.New("user id or guest name required")
	ErrInvalidProgress     = errors.New("progress out of range")
	ErrEmptyParagraph      = errors.New("paragraph is empty")
)
