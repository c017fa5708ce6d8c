package etherlink

import (
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/sock"
)

// Error is a structured etherlink error with operation and channel context.
type Error = errs.Error

// ErrorCode is a high-level error category.
type ErrorCode = errs.Code

// TransportError describes a socket failure and how many bytes moved before
// it.
type TransportError = sock.TransportError

// Error codes
const (
	ErrCodeIncompatibleDevice = errs.CodeIncompatibleDevice
	ErrCodeNoSpace            = errs.CodeNoSpace
	ErrCodeNoData             = errs.CodeNoData
	ErrCodeTransport          = errs.CodeTransport
	ErrCodeConfig             = errs.CodeConfig
	ErrCodeInvalidParameters  = errs.CodeInvalidParameters
	ErrCodeInconsistentState  = errs.CodeInconsistentState
)

// Sentinel errors for use with errors.Is
var (
	ErrIncompatibleDevice = errs.ErrIncompatibleDevice
	ErrNoSpace            = errs.ErrNoSpace
	ErrNoData             = errs.ErrNoData
	ErrTransport          = errs.ErrTransport
	ErrConfig             = errs.ErrConfig
	ErrInvalidParameters  = errs.ErrInvalidParameters
	ErrInconsistentState  = errs.ErrInconsistentState
)

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	return errs.IsCode(err, code)
}

// IsBackpressure reports whether err only means the device had no space or
// no data and the caller should poll again.
func IsBackpressure(err error) bool {
	return errs.IsBackpressure(err)
}

// IsWouldBlock reports whether err is a would-block or deadline condition on
// a socket.
func IsWouldBlock(err error) bool {
	return sock.IsWouldBlock(err)
}
