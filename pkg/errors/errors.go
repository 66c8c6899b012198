package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedLine       = errors.New("malformed line")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrQueryConstruction   = errors.New("query construction failed")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrExternalService     = errors.New("external service failure")
	ErrInvalidInput        = errors.New("invalid input")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// Process exit codes returned by the CLI.
const (
	ExitOK                  = 0
	ExitFailure             = 1
	ExitInvalidInput        = 2
	ExitResourceUnavailable = 3
	ExitExternalService     = 4
)

// AppError attaches pipeline context to a sentinel error. Empty context
// fields are omitted from the message.
type AppError struct {
	Err     error
	Op      string
	Path    string
	Topic   string
	Doc     string
	Message string
}

func (e *AppError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var ctx []string
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Topic != "" {
		ctx = append(ctx, "topic="+e.Topic)
	}
	if e.Doc != "" {
		ctx = append(ctx, "doc="+e.Doc)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, op string, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Op:      op,
		Message: message,
	}
}

func Newf(sentinel error, op string, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithPath returns a copy of e annotated with a file path.
func (e *AppError) WithPath(path string) *AppError {
	c := *e
	c.Path = path
	return &c
}

// WithTopic returns a copy of e annotated with a topic id.
func (e *AppError) WithTopic(topic string) *AppError {
	c := *e
	c.Topic = topic
	return &c
}

// WithDoc returns a copy of e annotated with a document id.
func (e *AppError) WithDoc(doc string) *AppError {
	c := *e
	c.Doc = doc
	return &c
}

// Recoverable reports whether err belongs to the class of failures that
// are logged, counted and skipped instead of aborting a pass.
func Recoverable(err error) bool {
	return errors.Is(err, ErrMalformedLine) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrQueryConstruction)
}

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidInput):
		return ExitInvalidInput
	case errors.Is(err, ErrResourceUnavailable):
		return ExitResourceUnavailable
	case errors.Is(err, ErrExternalService), errors.Is(err, ErrCircuitOpen):
		return ExitExternalService
	default:
		return ExitFailure
	}
}
