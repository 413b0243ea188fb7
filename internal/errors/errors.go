// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errors provides kind-tagged errors for the update pipeline.
// Storage primitives, the patch engine boundary and the boot boundary all
// return *Error values so callers can branch on Kind instead of status codes.
package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation
	// KindDeviceUnavailable means a partition could not be claimed.
	KindDeviceUnavailable
	KindReadFailure
	KindWriteFailure
	KindEraseFailure
	// KindPatchApplication means the engine could not reconstruct the image.
	KindPatchApplication
	// KindUpgradeRequest means the boot subsystem rejected the pending-upgrade marker.
	KindUpgradeRequest
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindReadFailure:
		return "read_failure"
	case KindWriteFailure:
		return "write_failure"
	case KindEraseFailure:
		return "erase_failure"
	case KindPatchApplication:
		return "patch_application_failure"
	case KindUpgradeRequest:
		return "upgrade_request_failure"
	default:
		return "unknown"
	}
}

// IsStorage reports whether k is one of the device-level kinds.
func (k Kind) IsStorage() bool {
	switch k {
	case KindDeviceUnavailable, KindReadFailure, KindWriteFailure, KindEraseFailure:
		return true
	}
	return false
}

// Error represents a structured error in the update pipeline.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{
		Kind:    kind,
		Message: msg,
	}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error as a new Error of the specified kind.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:       kind,
		Message:    msg,
		Underlying: err,
	}
}

// Wrapf wraps an existing error as a new Error of the specified kind with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		Underlying: err,
	}
}

// Attr attaches an attribute to an error. If the error is not an *Error, it wraps it as KindInternal.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		e = &Error{
			Kind:       KindInternal,
			Message:    err.Error(),
			Underlying: err,
		}
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// Storage builds a device-level error carrying the partition, offset and
// size of the failed operation.
func Storage(err error, kind Kind, partition string, offset, size int64, msg string) error {
	return &Error{
		Kind:       kind,
		Message:    msg,
		Underlying: err,
		Attributes: map[string]any{
			"partition": partition,
			"offset":    offset,
			"size":      size,
		},
	}
}

// GetKind returns the Kind of the error, or KindUnknown if it is not an *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetAttributes returns all attributes associated with the error and its chain.
// Attributes set closer to the top of the chain win.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	var e *Error

	tempErr := err
	for tempErr != nil {
		if errors.As(tempErr, &e) {
			for k, v := range e.Attributes {
				if _, ok := attrs[k]; !ok {
					attrs[k] = v
				}
			}
			tempErr = e.Underlying
		} else {
			break
		}
	}

	return attrs
}

// LogArgs flattens the attributes of err into key/value pairs for the logger,
// followed by the error kind.
func LogArgs(err error) []any {
	attrs := GetAttributes(err)
	args := make([]any, 0, len(attrs)*2+2)
	for _, key := range []string{"partition", "stream", "offset", "size"} {
		if v, ok := attrs[key]; ok {
			args = append(args, key, v)
			delete(attrs, key)
		}
	}
	for k, v := range attrs {
		args = append(args, k, v)
	}
	return append(args, "kind", GetKind(err).String())
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's type contains an Unwrap method returning error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
