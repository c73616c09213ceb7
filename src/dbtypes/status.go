// Package dbtypes holds the small, dependency-free types shared across the
// rest of the database: status codes, the generic result pair, and event
// kinds. Nothing here touches the filesystem or the codec.
package dbtypes

// Code is a terminal status code for a database operation.
type Code uint8

const (
	Ok Code = iota
	NotFound
	AlreadyExists
	InvalidArgument
	ValidationFailed
	IoError
	Corrupted
	Busy
	Unknown
)

var codeDescriptions = [...]string{
	"Ok",
	"Not found",
	"Already exists",
	"Invalid argument",
	"Validation failed",
	"I/O error",
	"Corrupted",
	"Busy",
	"Unknown",
}

func (c Code) String() string {
	if int(c) < len(codeDescriptions) {
		return codeDescriptions[c]
	}
	return "Unknown"
}

// Status is a terminal outcome: a code plus a human-readable message.
// The zero value is Ok with an empty message.
type Status struct {
	Code    Code
	Message string
}

// OK constructs a successful status.
func OK() Status {
	return Status{Code: Ok}
}

// New constructs a non-Ok status with a message.
func New(code Code, message string) Status {
	return Status{Code: code, Message: message}
}

// Wrap folds a Go error into a Status of the given code, using the error's
// message. A nil error produces Ok regardless of code.
func Wrap(code Code, err error) Status {
	if err == nil {
		return OK()
	}
	return Status{Code: code, Message: err.Error()}
}

func (s Status) IsOK() bool {
	return s.Code == Ok
}

func (s Status) String() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

// Error implements the error interface so a Status can be handed to code
// that expects one (e.g. multierr.Append) without an extra wrapper type.
func (s Status) Error() string {
	return s.String()
}

// Result is a (status, value) pair for call sites where bundling the two
// is more convenient than a second return value.
type Result[T any] struct {
	Status Status
	Value  T
}

func Ok2[T any](value T) Result[T] {
	return Result[T]{Status: OK(), Value: value}
}

func Err[T any](status Status) Result[T] {
	return Result[T]{Status: status}
}
