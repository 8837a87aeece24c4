package filemanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/retry"
)

// Kind classifies an operation failure.
type Kind int

const (
	KindRemoteFailure Kind = iota
	KindAccessDenied
	KindNameConflict
	KindNotFound
	KindRemoteTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindNameConflict:
		return "name_conflict"
	case KindNotFound:
		return "not_found"
	case KindRemoteTimeout:
		return "remote_timeout"
	default:
		return "remote_failure"
	}
}

// Status codes carried in the response envelope. RemoteFailure defaults
// to 417; copy and move report it as 404.
const (
	codeAccessDenied  = http.StatusUnauthorized
	codeNameConflict  = http.StatusBadRequest
	codeNotFound      = http.StatusNotFound
	codeRemoteFailure = http.StatusExpectationFailed
	codeRemoteTimeout = http.StatusGatewayTimeout
)

const (
	msgFileExists   = "File Already Exists"
	msgFileNotFound = "File not found."
	// MsgRootRestricted is the denial for renaming or deleting the root.
	MsgRootRestricted = "Restricted to modify the root folder."
)

// Error is the single failure an operation reports.
type Error struct {
	Kind       Kind
	Code       int
	Message    string
	FileExists []string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func denied(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Code: codeAccessDenied, Message: msg}
}

func conflict(msg string, fileExists []string) *Error {
	return &Error{Kind: KindNameConflict, Code: codeNameConflict, Message: msg, FileExists: fileExists}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: codeNotFound, Message: msg}
}

func remoteFailure(err error, code int) *Error {
	return &Error{Kind: KindRemoteFailure, Code: code, Message: err.Error(), Err: err}
}

func timeout(err error) *Error {
	return &Error{Kind: KindRemoteTimeout, Code: codeRemoteTimeout, Message: "The remote store did not finish the operation in time.", Err: err}
}

// classify turns any error into an *Error. failureCode is the code used
// for unclassified remote failures.
func classify(err error, failureCode int) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, retry.ErrExhausted) || errors.Is(err, context.DeadlineExceeded) {
		return timeout(err)
	}
	return remoteFailure(err, failureCode)
}

// AsError returns err as an *Error, classifying anything else as a
// remote failure.
func AsError(err error) *Error {
	return classify(err, codeRemoteFailure)
}

// denial builds the access-denied error for name. A rule message replaces
// the generic text.
func denial(perm *access.Permission, generic string) *Error {
	if perm != nil && perm.Message != "" {
		return denied(perm.Message)
	}
	return denied(generic)
}

func genericDenial(name string, c access.Capability) string {
	return fmt.Sprintf("'%s' is not accessible. You need permission to perform the %s action.", name, c)
}

func downloadDenial(name string) string {
	return fmt.Sprintf("'%s' is not accessible. Access is denied.", name)
}
