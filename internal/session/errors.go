package session

import (
	"errors"
	"fmt"
)

// ErrUnsolicitedDisconnect is recorded when a live session drops without
// being asked to.
var ErrUnsolicitedDisconnect = errors.New("session: unsolicited disconnect")

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("session: manager closed")

// TransportConnectError wraps a failed transport handshake.
type TransportConnectError struct {
	URL string
	Err error
}

func (e *TransportConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *TransportConnectError) Unwrap() error { return e.Err }

// SendError wraps a failed text-channel send. Kind is "text" or "greeting".
type SendError struct {
	Kind string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
