package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigErrorKind categorizes registry validation failures.
type ConfigErrorKind string

const (
	KindDuplicate         ConfigErrorKind = "DUPLICATE_TASK"
	KindUnknownDependency ConfigErrorKind = "UNKNOWN_DEPENDENCY"
	KindReservedName      ConfigErrorKind = "RESERVED_NAME"
	KindCycle             ConfigErrorKind = "DEPENDENCY_CYCLE"
	KindInvalidPolicy     ConfigErrorKind = "INVALID_POLICY"
	KindMissingAgent      ConfigErrorKind = "MISSING_AGENT"
	KindMissingSynthesis  ConfigErrorKind = "MISSING_SYNTHESIS"
	KindUnknownTask       ConfigErrorKind = "UNKNOWN_TASK"
	KindFrozen            ConfigErrorKind = "REGISTRY_FROZEN"
	KindNotValidated      ConfigErrorKind = "NOT_VALIDATED"
)

// ConfigError is a scheduler configuration error detected before any job
// runs.
type ConfigError struct {
	Kind    ConfigErrorKind
	Task    string
	Message string

	// Path is the cycle path for KindCycle, e.g. [a b a].
	Path []string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Path, " -> "))
	}
	return b.String()
}

// IsConfigError returns true if err is a ConfigError of any kind.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsCycleError returns true if err reports a dependency cycle.
func IsCycleError(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind == KindCycle
	}
	return false
}

// KindOf extracts the kind from a ConfigError, or "" for any other error.
func KindOf(err error) ConfigErrorKind {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
