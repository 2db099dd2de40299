package realtime

import "errors"

var (
	ErrDuplicateConnection   = errors.New("connection already registered")
	ErrUnknownConnection     = errors.New("unknown connection")
	ErrUnauthorizedGroupJoin = errors.New("identity may not join this group")
	ErrRegistryClosed        = errors.New("registry closed")
)
