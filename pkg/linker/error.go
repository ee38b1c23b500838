package linker

import (
	"fmt"
	"strings"
)

// Error is the diagnostic type used throughout the linker. It carries a
// message, an optional address the message refers to, and an optional
// wrapped cause. The rendered form is the chain innermost-first, one
// line per error, address-carrying lines prefixed with the address.
type Error struct {
	Msg      string
	Addr     uint64
	ShowAddr bool
	Cause    error
}

func NewError(msg string) *Error {
	return &Error{Msg: msg}
}

func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

func AddrError(addr uint64, msg string) *Error {
	return &Error{Msg: msg, Addr: addr, ShowAddr: true}
}

// Wrap attaches cause as the inner diagnostic of a new error.
func Wrap(cause error, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Cause != nil {
		sb.WriteString(e.Cause.Error())
		sb.WriteString("\n")
	}
	if e.ShowAddr {
		fmt.Fprintf(&sb, "[0x%016x] ", e.Addr)
	}
	sb.WriteString(e.Msg)
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}
