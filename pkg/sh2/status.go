package sh2

import (
	"errors"
	"fmt"
)

// Status is a hub operation result code.
type Status int

// Status codes, values match the hub host library.
const (
	OK              Status = 0
	Err             Status = -1
	ErrBadParam     Status = -2
	ErrOpInProgress Status = -3
	ErrIO           Status = -4
	ErrHub          Status = -5
	ErrTimeout      Status = -6
)

var statusNames = map[Status]string{
	OK:              "ok",
	Err:             "error",
	ErrBadParam:     "bad parameter",
	ErrOpInProgress: "operation in progress",
	ErrIO:           "i/o error",
	ErrHub:          "hub error",
	ErrTimeout:      "timeout",
}

// Error implements error.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", int(s))
}

// StatusOf reduces an error to a Status.
// nil is OK and errors not wrapping a Status are Err.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return Err
}
