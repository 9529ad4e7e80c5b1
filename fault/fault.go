package fault

import (
	"errors"
	"fmt"
)

type faultCode string

const (
	UnknownCode  faultCode = "unknown"
	NotFoundCode faultCode = "not_found"
	BadInputCode faultCode = "bad_input"

	// Filter compilation faults. These are deterministic for a given filter
	// and reference clock, so they are never retried; the caller has to fix
	// the filter.
	MacroSyntaxCode     faultCode = "macro_syntax"
	MacroFormatCode     faultCode = "macro_format"
	UnknownOperatorCode faultCode = "unknown_operator"
	InvalidFieldCode    faultCode = "invalid_field"
	InvalidFilterCode   faultCode = "invalid_filter"
	FilterTooDeepCode   faultCode = "filter_too_deep"
)

type fault struct {
	code     faultCode
	message  string
	metadata any
	original error
}

func New(code faultCode, message string) fault {
	return fault{
		code:    code,
		message: message,
	}
}

func Newf(code faultCode, format string, args ...any) fault {
	return fault{
		code:    code,
		message: fmt.Sprintf(format, args...),
	}
}

func (f fault) WithMetadata(metadata any) fault {
	e := f
	e.metadata = metadata
	return e
}

func (f fault) WithOriginal(original error) fault {
	e := f
	e.original = original
	return e
}

func (f fault) Code() faultCode {
	return f.code
}

func (f fault) Message() string {
	return f.message
}

func (f fault) Metadata() any {
	return f.metadata
}

func (f fault) Original() error {
	return f.original
}

func (f fault) Error() string {
	if f.original != nil {
		return fmt.Sprintf("%s: %v", f.message, f.original)
	}
	return f.message
}

func (f fault) Unwrap() error {
	return f.original
}

// HasCode reports whether err is (or wraps) a fault carrying the given code.
func HasCode(err error, code faultCode) bool {
	var f fault
	if errors.As(err, &f) {
		return f.code == code
	}
	return false
}

// CodeOf returns the fault code of err, or UnknownCode for foreign errors.
func CodeOf(err error) faultCode {
	var f fault
	if errors.As(err, &f) {
		return f.code
	}
	return UnknownCode
}

// MetadataOf returns the metadata attached to err, if err is a fault.
func MetadataOf(err error) any {
	var f fault
	if errors.As(err, &f) {
		return f.metadata
	}
	return nil
}
