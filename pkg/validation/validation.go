// Package validation checks hook definitions before they enter the engine.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hookline/hookline/internal/match"
	"github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/types"
)

const (
	// MaxIDLength bounds hook identifiers.
	MaxIDLength = 128

	// MaxNameLength bounds hook display names.
	MaxNameLength = 256

	// MaxInstructionLength bounds the natural-language instruction.
	MaxInstructionLength = 16 * 1024

	// MaxScopePatternLength bounds the pattern list.
	MaxScopePatternLength = 1024
)

// ValidateHook checks a hook definition and returns a coded error for the
// first problem found.
func ValidateHook(hook *types.Hook) error {
	if hook == nil {
		return errors.New(errors.CodeInvalidHook, "hook is nil")
	}

	if err := validateID(hook.ID); err != nil {
		return err
	}
	if utf8.RuneCountInString(hook.Name) > MaxNameLength {
		return invalid(hook.ID, "name exceeds %d characters", MaxNameLength)
	}

	if strings.TrimSpace(hook.Instruction) == "" {
		return invalid(hook.ID, "instruction must not be empty")
	}
	if utf8.RuneCountInString(hook.Instruction) > MaxInstructionLength {
		return invalid(hook.ID, "instruction exceeds %d characters", MaxInstructionLength)
	}

	if !hook.TriggerKind.Valid() {
		return invalid(hook.ID, "trigger kind %q is not recognized", hook.TriggerKind)
	}
	if !hook.ExecutionMode.Valid() {
		return invalid(hook.ID, "execution mode %q is not recognized", hook.ExecutionMode)
	}

	if hook.Priority < types.MinPriority || hook.Priority > types.MaxPriority {
		return invalid(hook.ID, "priority %d is outside [%d, %d]", hook.Priority, types.MinPriority, types.MaxPriority)
	}
	if hook.MaxSteps < 0 {
		return invalid(hook.ID, "max steps must not be negative")
	}

	return validateScopePattern(hook.ID, hook.ScopePattern)
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New(errors.CodeInvalidHook, "hook id must not be empty")
	}
	if utf8.RuneCountInString(id) > MaxIDLength {
		return invalid(id, "id exceeds %d characters", MaxIDLength)
	}
	if strings.ContainsAny(id, "/\\ \t\n") {
		return invalid(id, "id must not contain path separators or whitespace")
	}
	return nil
}

// validateScopePattern checks every comma-separated segment compiles. An
// empty pattern is the match-everything default and always valid.
func validateScopePattern(hookID, pattern string) error {
	if pattern == "" {
		return nil
	}
	if utf8.RuneCountInString(pattern) > MaxScopePatternLength {
		return invalid(hookID, "scope pattern exceeds %d characters", MaxScopePatternLength)
	}

	matcher := match.New()
	for _, segment := range strings.Split(pattern, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return invalid(hookID, "scope pattern has an empty segment")
		}
		if !matcher.Compiles(segment) {
			return invalid(hookID, "scope pattern segment %q does not compile", segment)
		}
	}
	return nil
}

func invalid(hookID, format string, args ...interface{}) error {
	e := errors.New(errors.CodeInvalidHook, fmt.Sprintf(format, args...))
	e.HookID = hookID
	return e
}
