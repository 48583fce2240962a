package worldsync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common worldsync error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrNotFound indicates a referenced entity, session or agent does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedType indicates a conversation type outside npc_user, npc_npc and group.
	ErrUnsupportedType = errors.New("unsupported conversation type")

	// ErrMalformedItem indicates an ingested chat or snapshot item failed validation.
	ErrMalformedItem = errors.New("malformed item")

	// ErrCollaboratorUnavailable indicates the memory service or LLM could not be reached.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Error kinds categorize errors by how callers are expected to react.
const (
	// KindValidation rejects a single malformed item; the queue continues.
	KindValidation = "validation"

	// KindLookupMiss means a location, appearance or agent mapping was absent.
	// Callers degrade to explicit fallback text and continue.
	KindLookupMiss = "lookup_miss"

	// KindCollaborator covers network and service errors from the memory service or LLM.
	KindCollaborator = "collaborator"

	// KindStateInconsistency is reported when state disagrees with itself,
	// e.g. a diff names a member the tracker never saw.
	KindStateInconsistency = "state_inconsistency"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindInternal represents unexpected internal faults.
	KindInternal = "internal"
)

// Error is a structured error that wraps an underlying error with the
// operation that failed and the category of failure.
//
// Error supports errors.Is() and errors.As().
type Error struct {
	// Op is the operation that failed (e.g., "Batcher.Apply", "Manager.Create").
	Op string

	// Kind categorizes the error (e.g., KindValidation, KindCollaborator).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional debugging information (entity ids, agent ids).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("worldsync: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("worldsync: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("worldsync: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one),
// otherwise it delegates to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	newErr.Context = merged
	return &newErr
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WrapError attaches op and kind to err. It returns nil for a nil err and
// keeps the innermost Kind when err is already an *Error.
func WrapError(op, kind string, err error) *Error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != "" {
		kind = k
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewLookupMiss creates a new Error with KindLookupMiss.
func NewLookupMiss(op string, err error) *Error {
	return &Error{Op: op, Kind: KindLookupMiss, Err: err}
}

// NewCollaboratorError creates a new Error with KindCollaborator.
func NewCollaboratorError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindCollaborator, Err: err}
}

// NewStateInconsistency creates a new Error with KindStateInconsistency.
func NewStateInconsistency(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStateInconsistency, Err: err}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// If logger is nil, slog.Default() is used.
//
//	defer worldsync.CloseWithLog(db, logger, "catalog database")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
