package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class sorts errors by how a caller should react: retry, reject the
// input, or stop the component.
type Class int

const (
	// ClassTransient marks failures that may clear on retry, such as a
	// dropped broker or database connection.
	ClassTransient Class = iota
	// ClassInvalid marks failures caused by the input itself. Retrying
	// the same input cannot succeed.
	ClassInvalid
	// ClassFatal marks failures the component cannot recover from, such
	// as a bad configuration or a failed migration.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across components. Callers match them with
// errors.Is; the wrapping helpers below preserve the chain.
var (
	// Lifecycle.
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")

	// Connectivity.
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Sparkplug decoding.
	ErrDecodeFailed   = errors.New("payload decode failed")
	ErrMalformedTopic = errors.New("malformed sparkplug topic")
	ErrMalformedKey   = errors.New("malformed cache key")

	// Storage.
	ErrMigrationFailed = errors.New("migration failed")

	// Topology and alarms.
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrRuleNotFound      = errors.New("alarm rule not found")
	ErrAlarmNotActive    = errors.New("alarm not active")
	ErrThresholdRequired = errors.New("threshold required")
	ErrNegativeDelay     = errors.New("delay must not be negative")

	// Configuration and queries.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidQuery  = errors.New("invalid query")
)

// sentinelClasses assigns a class to each bare sentinel so that errors
// which never passed through a Wrap helper still classify. First match
// wins.
var sentinelClasses = []struct {
	err   error
	class Class
}{
	{ErrNoConnection, ClassTransient},
	{ErrConnectionTimeout, ClassTransient},
	{context.DeadlineExceeded, ClassTransient},

	{ErrDecodeFailed, ClassInvalid},
	{ErrMalformedTopic, ClassInvalid},
	{ErrMalformedKey, ClassInvalid},
	{ErrInvalidIdentity, ClassInvalid},
	{ErrRuleNotFound, ClassInvalid},
	{ErrAlarmNotActive, ClassInvalid},
	{ErrThresholdRequired, ClassInvalid},
	{ErrNegativeDelay, ClassInvalid},
	{ErrInvalidQuery, ClassInvalid},

	{ErrInvalidConfig, ClassFatal},
	{ErrMissingConfig, ClassFatal},
	{ErrMigrationFailed, ClassFatal},
}

// ClassifiedError attaches a Class and the component/operation that
// produced the failure. Construct one through WrapTransient,
// WrapInvalid, or WrapFatal rather than directly.
type ClassifiedError struct {
	Class     Class
	Component string
	Op        string
	Err       error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Wrap adds component/operation context in the standard
// "component.op: action failed" form. Returns nil when err is nil.
func Wrap(err error, component, op, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, op, action, err)
}

// WrapTransient wraps err as retryable with standard context.
func WrapTransient(err error, component, op, action string) error {
	return wrapClass(ClassTransient, err, component, op, action)
}

// WrapInvalid wraps err as a bad-input failure with standard context.
func WrapInvalid(err error, component, op, action string) error {
	return wrapClass(ClassInvalid, err, component, op, action)
}

// WrapFatal wraps err as unrecoverable with standard context.
func WrapFatal(err error, component, op, action string) error {
	return wrapClass(ClassFatal, err, component, op, action)
}

func wrapClass(class Class, err error, component, op, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Op:        op,
		Err:       Wrap(err, component, op, action),
	}
}

// classOf resolves the class of err. An explicit ClassifiedError in the
// chain is authoritative; otherwise the sentinel table decides.
func classOf(err error) (Class, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, sc := range sentinelClasses {
		if errors.Is(err, sc.err) {
			return sc.class, true
		}
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying. Besides classified
// errors and transient sentinels, network timeouts count as transient.
func IsTransient(err error) bool {
	if c, ok := classOf(err); ok {
		return c == ClassTransient
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassInvalid
}

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassFatal
}

// Re-exported stdlib helpers so callers need a single errors import.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join wraps the given errors into one, discarding nils.
func Join(errs ...error) error { return errors.Join(errs...) }

// New returns an error with the given text.
func New(text string) error { return errors.New(text) }
