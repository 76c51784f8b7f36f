// Package common holds the error classes shared by the domain packages. Domain
// sentinels wrap one of them so transports can map a whole class at once.
package common

import "errors"

var (
	ErrNotFound    = errors.New("requested item not found")
	ErrConflict    = errors.New("item already exists or conflict")
	ErrBadRequest  = errors.New("bad request")
	ErrGone        = errors.New("item no longer available")
	ErrUnavailable = errors.New("dependency unavailable")
)
