package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the service wraps exactly one of
// these so the transport can map it with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrTooManyAttempts = errors.New("too many attempts")
)

var (
	ErrAgentNotFound = func(id string) error {
		return fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}

	ErrInviteCodeNotFound = func(code string) error {
		return fmt.Errorf("no active recruiter for invite code %q: %w", code, ErrNotFound)
	}

	ErrApplicationNotFound = func(id string) error {
		return fmt.Errorf("promotion application %q: %w", id, ErrNotFound)
	}

	ErrRecordNotFound = func(key string) error {
		return fmt.Errorf("distribution record %q: %w", key, ErrNotFound)
	}

	ErrNoPendingApplication = func(agentID string) error {
		return fmt.Errorf("no pending promotion application for agent %q: %w", agentID, ErrNotFound)
	}

	ErrConfigNotFound = fmt.Errorf("active distribution configuration: %w", ErrNotFound)

	ErrWalletNotFound = func(agentID string) error {
		return fmt.Errorf("wallet of agent %q: %w", agentID, ErrNotFound)
	}

	ErrAgentExists = func(id string) error {
		return fmt.Errorf("agent %q already exists: %w", id, ErrConflict)
	}

	ErrAlreadyBound = func(id string) error {
		return fmt.Errorf("agent %q already has a recruiter: %w", id, ErrConflict)
	}

	ErrSelfBinding = func(id string) error {
		return fmt.Errorf("agent %q cannot recruit itself: %w", id, ErrConflict)
	}

	ErrBindingCycle = func(recruiter, recruit string) error {
		return fmt.Errorf("binding %q under %q would create a cycle: %w", recruit, recruiter, ErrConflict)
	}

	ErrInviteCodeTaken = func(code string) error {
		return fmt.Errorf("invite code %q is already taken: %w", code, ErrConflict)
	}

	ErrIllegalTransition = func(id string, from, to RecordStatus) error {
		return fmt.Errorf("record %q cannot move from %s to %s: %w", id, from, to, ErrConflict)
	}

	ErrDuplicateRecord = func(key string) error {
		return fmt.Errorf("distribution record %q already exists: %w", key, ErrConflict)
	}

	ErrPendingApplicationExists = func(agentID string) error {
		return fmt.Errorf("agent %q already has a pending promotion application: %w", agentID, ErrConflict)
	}

	ErrApplicationClosed = func(id string, status ApplicationStatus) error {
		return fmt.Errorf("promotion application %q is %s: %w", id, status, ErrConflict)
	}

	ErrNotEligibleForApplication = func(agentID string, level Level) error {
		return fmt.Errorf("agent %q at %s tier cannot apply for promotion: %w", agentID, level, ErrConflict)
	}

	ErrBindThrottled = func(key string) error {
		return fmt.Errorf("bind attempts for %q exceeded: %w", key, ErrTooManyAttempts)
	}
)

// Validationf builds a validation error
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
