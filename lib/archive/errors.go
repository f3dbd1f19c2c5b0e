package archive

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

// RetCode classifies every failure the client library can report.
type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Operation completed successfully.
	RetCInternalError                      // 1: Unexpected internal failure.
	RetCBadHandle                          // 2: Nil, closed or foreign operation handle.
	RetCWrongState                         // 3: Handle is not in a state that allows the operation.
	RetCInvalidObjectID                    // 4: Object identifier has an invalid syntax.
	RetCSchemaMismatch                     // 5: Value type does not match the schema declaration.
	RetCUnknownAttribute                   // 6: Attribute name is not part of the schema.
	RetCBufferOverflow                     // 7: A fixed size buffer was exceeded.
	RetCMalformedWireData                  // 8: Wire data could not be parsed.
	RetCTypeMismatch                       // 9: Wire tag or accessor does not match the expected type.
	RetCIllegalTag                         // 10: Unknown type tag on the wire.
	RetCProtocolDesync                     // 11: Chunk acknowledgment stream is out of sync.
	RetCMissingSystemRecord                // 12: Store finished without a valid system record.
	RetCEmptyPageWithCookie                // 13: Query page without rows carried a continuation cookie.
	RetCConnectFailed                      // 14: Connection to the cell could not be established.
	RetCLowSpeed                           // 15: Exchange aborted by the low throughput watchdog.
	RetCHTTPError                          // 16: Cell answered with a non success status.
	RetCPartialFile                        // 17: Fewer bytes were received than announced.
	RetCAborted                            // 18: A callback aborted the exchange.
	RetCNoSuchCell                         // 19: The requested cell is not configured.
	RetCNoSpaceAvailable                   // 20: No cell has spare capacity.
	RetCReadPastLastResult                 // 21: Cursor was read after it reported the end of results.
	RetCSessionClosed                      // 22: Session was closed.
)

var retCodeNames = map[RetCode]string{
	RetCSuccess:             "Success",
	RetCInternalError:       "InternalError",
	RetCBadHandle:           "BadHandle",
	RetCWrongState:          "WrongState",
	RetCInvalidObjectID:     "InvalidObjectID",
	RetCSchemaMismatch:      "SchemaMismatch",
	RetCUnknownAttribute:    "UnknownAttribute",
	RetCBufferOverflow:      "BufferOverflow",
	RetCMalformedWireData:   "MalformedWireData",
	RetCTypeMismatch:        "TypeMismatch",
	RetCIllegalTag:          "IllegalTag",
	RetCProtocolDesync:      "ProtocolDesync",
	RetCMissingSystemRecord: "MissingSystemRecord",
	RetCEmptyPageWithCookie: "EmptyPageWithCookie",
	RetCConnectFailed:       "ConnectFailed",
	RetCLowSpeed:            "LowSpeed",
	RetCHTTPError:           "HTTPError",
	RetCPartialFile:         "PartialFile",
	RetCAborted:             "Aborted",
	RetCNoSuchCell:          "NoSuchCell",
	RetCNoSpaceAvailable:    "NoSpaceAvailable",
	RetCReadPastLastResult:  "ReadPastLastResult",
	RetCSessionClosed:       "SessionClosed",
}

func (c RetCode) String() string {
	if name, ok := retCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("RetCode(%d)", uint64(c))
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and a message. Two errors are considered equal
// by errors.Is when their codes match, so the Err* values below can be used
// as sentinels.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("ArchiveError (code %s)", e.Code)
	}
	return fmt.Sprintf("ArchiveError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the return code of err. nil maps to RetCSuccess and
// errors that carry no code map to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsCode reports whether err carries the given return code.
func IsCode(err error, code RetCode) bool {
	return err != nil && CodeOf(err) == code
}

// Sentinels for errors.Is comparisons.
var (
	ErrBadHandle          = NewError(RetCBadHandle, "")
	ErrWrongState         = NewError(RetCWrongState, "")
	ErrInvalidObjectID    = NewError(RetCInvalidObjectID, "")
	ErrMalformedWireData  = NewError(RetCMalformedWireData, "")
	ErrTypeMismatch       = NewError(RetCTypeMismatch, "")
	ErrProtocolDesync     = NewError(RetCProtocolDesync, "")
	ErrNoSuchCell         = NewError(RetCNoSuchCell, "")
	ErrReadPastLastResult = NewError(RetCReadPastLastResult, "")
)
