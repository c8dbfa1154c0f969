package lowering

import "fmt"

// ErrorKind classifies lowering failures.
type ErrorKind int

const (
	// ErrApplicabilityRejected means the operation variant is outside what
	// the pipeline template supports. Recoverable: fall back to a host
	// reference kernel.
	ErrApplicabilityRejected ErrorKind = iota
	// ErrConfigurationInvalid means explicit sizing parameters violate a
	// structural invariant. Not recoverable by fallback; the caller must fix
	// the configuration.
	ErrConfigurationInvalid
	// ErrUnsupportedShape means the operand ranks or extents cannot be
	// mapped onto the pipeline. Recoverable like applicability rejection.
	ErrUnsupportedShape
)

func (k ErrorKind) String() string {
	switch k {
	case ErrApplicabilityRejected:
		return "applicability_rejected"
	case ErrConfigurationInvalid:
		return "configuration_invalid"
	case ErrUnsupportedShape:
		return "unsupported_shape"
	default:
		return "unknown"
	}
}

// Error is the structured error every lowering entry point returns.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a lowering error with a formatted message.
func NewError(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError attaches an underlying cause.
func WrapError(kind ErrorKind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsApplicabilityRejected reports whether err is a lowering error of kind
// ErrApplicabilityRejected.
func IsApplicabilityRejected(err error) bool {
	return hasKind(err, ErrApplicabilityRejected)
}

// IsConfigurationInvalid reports whether err is a lowering error of kind
// ErrConfigurationInvalid.
func IsConfigurationInvalid(err error) bool {
	return hasKind(err, ErrConfigurationInvalid)
}

// IsUnsupportedShape reports whether err is a lowering error of kind
// ErrUnsupportedShape.
func IsUnsupportedShape(err error) bool {
	return hasKind(err, ErrUnsupportedShape)
}

// IsRecoverable reports whether the caller may fall back to a host reference
// kernel instead of failing.
func IsRecoverable(err error) bool {
	return hasKind(err, ErrApplicabilityRejected) || hasKind(err, ErrUnsupportedShape)
}

func hasKind(err error, kind ErrorKind) bool {
	lerr, ok := err.(*Error)
	return ok && lerr.Kind == kind
}
