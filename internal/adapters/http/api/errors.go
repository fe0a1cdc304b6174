package api

import "errors"

// ErrBadRequest marks malformed requests.
var ErrBadRequest = errors.New("bad request")
