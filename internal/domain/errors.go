package domain

import "errors"

var (
	ErrTierNotFound       = errors.New("tier assignment not found")
	ErrTooManyConnections = errors.New("too many connections for user")
	ErrRegistryStopped    = errors.New("connection registry stopped")
)
