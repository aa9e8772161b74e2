package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies why a module could not be inspected.
type Code uint32

const (
	ErrIo Code = iota + 1
	ErrFormat
	ErrSymbolNotFound
	ErrVersionUnsupported
	ErrDataCorrupt
	ErrAllocation
)

func (c Code) String() string {
	switch c {
	case ErrIo:
		return "io error"
	case ErrFormat:
		return "format error"
	case ErrSymbolNotFound:
		return "symbol not found"
	case ErrVersionUnsupported:
		return "version unsupported"
	case ErrDataCorrupt:
		return "data corrupt"
	case ErrAllocation:
		return "allocation failure"
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

type PluginError struct {
	Code Code
	// Tag is the offending record version, set for ErrVersionUnsupported only.
	Tag uint64
	Msg string
	Err error
}

func (e *PluginError) Error() string {
	msg := e.Code.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// New creates a new PluginError
func New(code Code, msg string) error {
	return &PluginError{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) error {
	return &PluginError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err stays nil.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &PluginError{Code: code, Msg: msg, Err: err}
}

// VersionUnsupported reports a record whose version tag this build cannot read.
func VersionUnsupported(tag uint64) error {
	return &PluginError{
		Code: ErrVersionUnsupported,
		Tag:  tag,
		Msg:  fmt.Sprintf("record version %d is invalid or newer than this library supports", tag),
	}
}

// CodeOf returns the code of the outermost PluginError in err's chain, or 0.
func CodeOf(err error) Code {
	var pe *PluginError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsBenign reports outcomes that are expected while enumerating candidates:
// the file is simply not a module, or targets a newer record layout.
func IsBenign(err error) bool {
	switch CodeOf(err) {
	case ErrSymbolNotFound, ErrVersionUnsupported:
		return true
	}
	return false
}

// TagOf returns the rejected version tag carried by err, if any.
func TagOf(err error) (uint64, bool) {
	var pe *PluginError
	if stderrors.As(err, &pe) && pe.Code == ErrVersionUnsupported {
		return pe.Tag, true
	}
	return 0, false
}
