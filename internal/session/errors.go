package session

import "errors"

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("session already active")
