package fieldq

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/fieldq/nested"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoIncludes is returned when an And or Or node has no includes.
	ErrNoIncludes = nested.ErrNoIncludes
)

// ConfigurationError reports a builder that cannot produce an iterator:
// required parameters are missing, or the cache directory or scanner could
// not be set up. It is not retryable.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ConfigurationError struct {
	// Builder names the builder kind, e.g. "range".
	Builder string
	// Missing lists the required parameters that were not set.
	Missing []string
	// Reason describes a setup failure.
	Reason string
	cause  error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s builder", e.Builder)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing required parameters: %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func setupError(builder, reason string, cause error) error {
	return &ConfigurationError{Builder: builder, Reason: reason, cause: cause}
}

// required collects missing parameters in declaration order.
type required struct {
	builder string
	missing []string
}

func (r *required) check(name string, present bool) {
	if !present {
		r.missing = append(r.missing, name)
	}
}

func (r *required) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return &ConfigurationError{Builder: r.builder, Missing: r.missing}
}
