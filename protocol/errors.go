package protocol

import (
	"errors"
	"strings"
)

var (
	ErrFrameCorrupt        = errors.New("Frame is corrupt, payload was not followed by CRLF")
	ErrMalformedHeader     = errors.New("Frame header is malformed")
	ErrPayloadTooLarge     = errors.New("Frame payload is larger than the maximum allowed")
	ErrControlLineTooLong  = errors.New("Control line is longer than the maximum allowed")
	ErrInvalidSubject      = errors.New("Subject is invalid")
	ErrInvalidServerInfo   = errors.New("Server INFO is not valid JSON")
	ErrInvalidConnectField = errors.New("Connect options could not be encoded")
)

// ServerError is a -ERR sent by the server, surfaced to callers.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Is reports whether the server error text matches, ignoring case. This lets
// callers write errors.Is(err, &ServerError{Message: "Slow Consumer"}).
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	if !ok {
		return false
	}

	return strings.EqualFold(e.Message, t.Message)
}
