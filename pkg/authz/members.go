package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/observability"
)

// inviteTTL is how long an invitation stays acceptable.
const inviteTTL = 7 * 24 * time.Hour

// MemberService manages the membership lifecycle. All multi-row updates (the
// membership record plus the denormalized user_teams list, and the last-admin
// guard) run in a single transaction.
type MemberService struct {
	store  *Store
	logger *observability.Logger
	audit  audit.Recorder
}

// NewMemberService creates a MemberService.
func NewMemberService(store *Store, logger *observability.Logger, rec audit.Recorder) *MemberService {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &MemberService{store: store, logger: logger, audit: rec}
}

// AddMember adds a principal to a team directly with the given role.
// Idempotent: an existing active membership is returned unchanged. An
// invited, pending, or inactive membership is (re)activated with the new
// role and a refreshed joined-at.
func (s *MemberService) AddMember(ctx context.Context, teamID, principalID, roleID int64, displayName string) (*Membership, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := validateRoleForTeam(ctx, tx, roleID, teamID); err != nil {
		return nil, err
	}

	existing, err := getMembership(ctx, tx, teamID, principalID, s.store.lockSuffix)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, err
	}

	var m *Membership
	switch {
	case existing != nil && existing.Status == StatusActive:
		return existing, nil

	case existing != nil:
		existing.Status = StatusActive
		existing.RoleID = roleID
		existing.JoinedAt = time.Now().UTC()
		existing.InviteToken = ""
		existing.InviteExpires = nil
		if displayName != "" {
			existing.DisplayName = displayName
		}
		if err := updateMembershipRow(ctx, tx, existing); err != nil {
			return nil, err
		}
		m = existing

	default:
		m = &Membership{
			TeamID:        teamID,
			PrincipalID:   principalID,
			RoleID:        roleID,
			DisplayName:   displayName,
			Status:        StatusActive,
			Notifications: DefaultNotificationPrefs(),
		}
		if err := insertMembership(ctx, tx, m); err != nil {
			return nil, err
		}
	}

	// The denormalized team list changes in the same transaction as the
	// membership; a failure rolls both back together.
	if err := addUserTeam(ctx, tx, principalID, teamID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit member addition: %w", err)
	}

	s.logger.WithFields(map[string]any{
		"team_id":      teamID,
		"principal_id": principalID,
		"role_id":      roleID,
	}).Info("member added")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventMemberAdd,
		Status:       audit.StatusSuccess,
		ActorID:      principalID,
		TeamID:       teamID,
		ResourceType: audit.ResourceMember,
		ResourceID:   strconv.FormatInt(principalID, 10),
	})
	return m, nil
}

// InviteMember invites a principal, resolved by email, to join a team with the
// given role. Inviting an active member fails; re-inviting a pending invitee
// returns the existing invitation unchanged.
func (s *MemberService) InviteMember(ctx context.Context, teamID, inviterID int64, email string, roleID int64) (*Membership, error) {
	principalID, err := s.store.ResolvePrincipalByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := validateRoleForTeam(ctx, tx, roleID, teamID); err != nil {
		return nil, err
	}

	existing, err := getMembership(ctx, tx, teamID, principalID, s.store.lockSuffix)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, err
	}

	if existing != nil {
		switch existing.Status {
		case StatusActive:
			return nil, invariant("principal %d is already a member of team %d", principalID, teamID)
		case StatusInvited:
			return existing, nil
		}
	}

	expires := time.Now().UTC().Add(inviteTTL)
	if existing != nil {
		existing.Status = StatusInvited
		existing.RoleID = roleID
		existing.InvitedBy = &inviterID
		existing.InviteToken = uuid.NewString()
		existing.InviteExpires = &expires
		if err := updateMembershipRow(ctx, tx, existing); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit invitation: %w", err)
		}
		return existing, nil
	}

	m := &Membership{
		TeamID:        teamID,
		PrincipalID:   principalID,
		RoleID:        roleID,
		Status:        StatusInvited,
		InvitedBy:     &inviterID,
		InviteToken:   uuid.NewString(),
		InviteExpires: &expires,
		Notifications: DefaultNotificationPrefs(),
	}
	if err := insertMembership(ctx, tx, m); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventMemberInvite,
		Status:       audit.StatusSuccess,
		ActorID:      inviterID,
		TeamID:       teamID,
		ResourceType: audit.ResourceMember,
		ResourceID:   strconv.FormatInt(principalID, 10),
	})
	return m, nil
}

// AcceptInvitation transitions an invited membership to active. The member
// lands on the team's current default role, not the role recorded at invite
// time, so late role changes apply to pending invitees too.
func (s *MemberService) AcceptInvitation(ctx context.Context, token string, principalID int64) (*Membership, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := getMembershipByTokenTx(ctx, tx, token, s.store.lockSuffix)
	if err != nil {
		return nil, err
	}
	if m.PrincipalID != principalID {
		return nil, fmt.Errorf("invitation for another principal: %w", ErrMembershipNotFound)
	}
	if m.Status != StatusInvited && m.Status != StatusPendingApproval {
		return nil, invariant("invitation is no longer pending")
	}
	if m.InviteExpires != nil && time.Now().After(*m.InviteExpires) {
		s.audit.Record(ctx, audit.Event{
			EventType:    audit.EventMemberAccept,
			Status:       audit.StatusFailure,
			ActorID:      principalID,
			TeamID:       m.TeamID,
			ResourceType: audit.ResourceMember,
			ResourceID:   strconv.FormatInt(m.PrincipalID, 10),
			Message:      "invitation expired",
		})
		return nil, ErrInvitationExpired
	}

	defaultRoleID, err := getTeamDefaultRole(ctx, tx, m.TeamID)
	if err != nil {
		return nil, err
	}

	m.Status = StatusActive
	m.RoleID = defaultRoleID
	m.JoinedAt = time.Now().UTC()
	m.InviteToken = ""
	m.InviteExpires = nil
	if err := updateMembershipRow(ctx, tx, m); err != nil {
		return nil, err
	}
	if err := addUserTeam(ctx, tx, m.PrincipalID, m.TeamID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}

	s.logger.WithFields(map[string]any{
		"team_id":      m.TeamID,
		"principal_id": m.PrincipalID,
	}).Info("invitation accepted")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventMemberAccept,
		Status:       audit.StatusSuccess,
		ActorID:      principalID,
		TeamID:       m.TeamID,
		ResourceType: audit.ResourceMember,
		ResourceID:   strconv.FormatInt(m.PrincipalID, 10),
	})
	return m, nil
}

// RemoveMember soft-deletes a membership: the record flips to inactive and
// the team leaves the principal's denormalized list. Removing the last active
// holder of the admin role is rejected.
func (s *MemberService) RemoveMember(ctx context.Context, teamID, principalID int64, actorID int64) error {
	err := s.deactivate(ctx, teamID, principalID)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]any{
		"team_id":      teamID,
		"principal_id": principalID,
	}).Info("member removed")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventMemberRemove,
		Status:       audit.StatusSuccess,
		ActorID:      actorID,
		TeamID:       teamID,
		ResourceType: audit.ResourceMember,
		ResourceID:   strconv.FormatInt(principalID, 10),
	})
	return nil
}

func (s *MemberService) deactivate(ctx context.Context, teamID, principalID int64) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := getMembership(ctx, tx, teamID, principalID, s.store.lockSuffix)
	if err != nil {
		return err
	}

	if m.Status == StatusActive {
		// Lock the role row before counting so two concurrent removals of
		// admins cannot both observe a surviving admin and both proceed.
		role, err := getRole(ctx, tx, m.RoleID, s.store.lockSuffix)
		if err != nil {
			return err
		}
		if role.IsAdmin {
			count, err := countActiveMembersWithRole(ctx, tx, role.ID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return invariant("cannot remove the last admin")
			}
		}
	}

	m.Status = StatusInactive
	if err := updateMembershipRow(ctx, tx, m); err != nil {
		return err
	}
	if err := removeUserTeam(ctx, tx, principalID, teamID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member removal: %w", err)
	}
	return nil
}

// UpdateMemberRequest carries partial membership updates. Nil fields are left
// untouched. Status changes must follow the membership state machine.
type UpdateMemberRequest struct {
	RoleID        *int64
	DisplayName   *string
	Status        *MemberStatus
	Notifications *NotificationPrefs
	ActorID       int64
}

// UpdateMember applies a partial update to an existing membership. A role
// change is validated against the membership's team; a status change to
// inactive runs through the same guarded deactivation as RemoveMember.
func (s *MemberService) UpdateMember(ctx context.Context, teamID, principalID int64, req UpdateMemberRequest) (*Membership, error) {
	if req.Status != nil && *req.Status == StatusInactive {
		current, err := s.store.GetMembership(ctx, teamID, principalID)
		if err != nil {
			return nil, err
		}
		if !current.Status.canTransitionTo(StatusInactive) {
			return nil, invariant("invalid status transition %s -> %s", current.Status, StatusInactive)
		}
		if err := s.deactivate(ctx, teamID, principalID); err != nil {
			return nil, err
		}
		return s.store.GetMembership(ctx, teamID, principalID)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := getMembership(ctx, tx, teamID, principalID, s.store.lockSuffix)
	if err != nil {
		return nil, err
	}

	if req.RoleID != nil {
		if err := validateRoleForTeam(ctx, tx, *req.RoleID, teamID); err != nil {
			return nil, err
		}
		m.RoleID = *req.RoleID
	}
	if req.DisplayName != nil {
		m.DisplayName = *req.DisplayName
	}
	if req.Notifications != nil {
		m.Notifications = *req.Notifications
	}

	activated := false
	if req.Status != nil && *req.Status != m.Status {
		if !req.Status.IsValid() {
			return nil, fmt.Errorf("unknown membership status %q", *req.Status)
		}
		if !m.Status.canTransitionTo(*req.Status) {
			return nil, invariant("invalid status transition %s -> %s", m.Status, *req.Status)
		}
		m.Status = *req.Status
		if *req.Status == StatusActive {
			m.JoinedAt = time.Now().UTC()
			m.InviteToken = ""
			m.InviteExpires = nil
			activated = true
		}
	}

	if err := updateMembershipRow(ctx, tx, m); err != nil {
		return nil, err
	}
	if activated {
		if err := addUserTeam(ctx, tx, principalID, teamID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit member update: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventMemberUpdate,
		Status:       audit.StatusSuccess,
		ActorID:      req.ActorID,
		TeamID:       teamID,
		ResourceType: audit.ResourceMember,
		ResourceID:   strconv.FormatInt(principalID, 10),
	})
	return m, nil
}

// GetTeamMembers lists the team's memberships.
func (s *MemberService) GetTeamMembers(ctx context.Context, teamID int64) ([]Membership, error) {
	return s.store.ListTeamMembers(ctx, teamID)
}

// ExpireStaleInvitations flips invitations past their expiry back to inactive
// so the tokens stop being acceptable. Run by the janitor, not by request
// handlers.
func (s *MemberService) ExpireStaleInvitations(ctx context.Context) (int64, error) {
	result, err := s.store.db.ExecContext(ctx, `
		UPDATE team_members
		SET status = $1, invite_token = NULL, invite_expires_at = NULL, updated_at = $2
		WHERE status = $3 AND invite_expires_at IS NOT NULL AND invite_expires_at < $4
	`, StatusInactive, time.Now().UTC(), StatusInvited, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return result.RowsAffected()
}

// validateRoleForTeam rejects cross-team role references at write time.
func validateRoleForTeam(ctx context.Context, q querier, roleID, teamID int64) error {
	role, err := getRole(ctx, q, roleID, "")
	if err != nil {
		return err
	}
	if role.TeamID != teamID {
		return &InvalidReferenceError{RoleID: roleID, RoleTeamID: role.TeamID, TeamID: teamID}
	}
	return nil
}

func getMembershipByTokenTx(ctx context.Context, q querier, token string, lockSuffix string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE invite_token = $1` + lockSuffix

	m, err := scanMembership(q.QueryRowContext(ctx, query, token))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invitation token: %w", ErrMembershipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return m, nil
}
