package authz

import (
	"errors"
	"fmt"
)

// Sentinel errors for the common not-found cases. Store methods wrap these
// with context via %w so callers can match with errors.Is.
var (
	ErrTeamNotFound       = errors.New("team not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrInvitationExpired  = errors.New("invitation expired")
)

// InvariantViolationError is returned when a lifecycle operation would break
// one of the model invariants (admin-role protection, default-role protection,
// last-admin removal, role-with-active-members deletion).
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return e.Reason
}

func invariant(format string, args ...any) error {
	return &InvariantViolationError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}

// InvalidReferenceError is returned when a write would point a membership at a
// role belonging to a different team. Cross-team role references are rejected
// at write time, never tolerated until read time.
type InvalidReferenceError struct {
	RoleID     int64
	RoleTeamID int64
	TeamID     int64
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("role %d belongs to team %d, not team %d", e.RoleID, e.RoleTeamID, e.TeamID)
}

// IsInvalidReference reports whether err is a cross-team reference error.
func IsInvalidReference(err error) bool {
	var ir *InvalidReferenceError
	return errors.As(err, &ir)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrMembershipNotFound) ||
		errors.Is(err, ErrPrincipalNotFound)
}
