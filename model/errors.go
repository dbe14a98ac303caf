package model

import "errors"

var (
	ErrEventNotFound = errors.New("event does not exist")
	ErrRSVPNotFound  = errors.New("rsvp does not exist")
)
