package bot

import "errors"

var (
	// ErrEmptyText is returned when a bot is spawned with nothing to type.
	ErrEmptyText = errors.New("empty paragraph")

	// ErrInvalidProfile is returned for a profile without a positive target WPM.
	ErrInvalidProfile = errors.New("invalid bot profile")

	// ErrAlreadyRunning is returned when a bot id is already running.
	ErrAlreadyRunning = errors.New("bot already running")
)
