package reaper

import "errors"

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("sweep already in progress")
