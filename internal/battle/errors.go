package battle

import "errors"

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

// Error kinds. Match with errors.Is.
var (
    ErrNotFound     = errf("not found")
    ErrUnauthorized = errf("not authorized")
    ErrPrecondition = errf("precondition failed")
    ErrGeneration   = errf("content generation failed")
    ErrInvalidArgs  = errf("invalid arguments")
)

// Error is returned by every Manager operation that is rejected or fails.
type Error struct {
    Kind   error  // one of the kinds above
    Op     string // e.g. "start_round"
    Reason string
    Err    error
}

func (e *Error) Error() string {
    msg := e.Op + ": " + e.Kind.Error()
    if e.Reason != "" { msg += ": " + e.Reason }
    if e.Err != nil { msg += ": " + e.Err.Error() }
    return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }
func (e *Error) Unwrap() error        { return e.Err }

func notFound(op, reason string) error     { return &Error{Kind: ErrNotFound, Op: op, Reason: reason} }
func unauthorized(op, reason string) error { return &Error{Kind: ErrUnauthorized, Op: op, Reason: reason} }
func precondition(op, reason string) error { return &Error{Kind: ErrPrecondition, Op: op, Reason: reason} }
func invalid(op, reason string) error      { return &Error{Kind: ErrInvalidArgs, Op: op, Reason: reason} }

func generation(op string, err error) error {
    return &Error{Kind: ErrGeneration, Op: op, Err: err}
}

// KindOf returns the kind of err, or nil when err is not a battle error.
func KindOf(err error) error {
    var be *Error
    if errors.As(err, &be) { return be.Kind }
    return nil
}
