package nut

import (
	"errors"
	"strings"
)

// Error kinds. Every *Error wraps exactly one of these so callers can pick
// the recovery granularity with errors.Is.
var (
	ErrConnection = errors.New("connection failed")
	ErrAuth       = errors.New("authentication failed")
	ErrUnknownUPS = errors.New("unknown UPS")
	ErrProtocol   = errors.New("protocol error")
)

// Error describes a failure talking to one upsd server, optionally scoped to
// one UPS on it.
type Error struct {
	Kind     error  // one of the Err* kinds above
	Server   string // host:port
	UPS      string // empty for server-level failures
	Stage    string // "username" or "password" for auth failures
	Response string // the ERR line received, if any
	Err      error  // underlying I/O error, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("nut ")
	b.WriteString(e.Server)
	if e.UPS != "" {
		b.WriteString("/")
		b.WriteString(e.UPS)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Stage != "" {
		b.WriteString(" (")
		b.WriteString(e.Stage)
		b.WriteString(")")
	}
	switch {
	case e.Response != "":
		b.WriteString(": ")
		b.WriteString(e.Response)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsServerFatal reports whether err means the whole server must be skipped
// (connection or authentication failure) rather than a single UPS.
func IsServerFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrAuth)
}

// KindOf returns a short label for err, suitable for logs and metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrUnknownUPS):
		return "unknown_ups"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}
