package authz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/observability"
)

// RoleService manages the role lifecycle: creation with permission-matrix
// defaults, updates including default-role reassignment, and guarded deletion.
// Unlike the Evaluator it fails loud: invariant violations and store failures
// propagate as typed errors for the request layer to translate.
type RoleService struct {
	store  *Store
	logger *observability.Logger
	audit  audit.Recorder
}

// NewRoleService creates a RoleService.
func NewRoleService(store *Store, logger *observability.Logger, rec audit.Recorder) *RoleService {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &RoleService{store: store, logger: logger, audit: rec}
}

// CreateRoleRequest carries the inputs for ad hoc role creation. Overrides
// are merged onto the deny-by-default baseline; IsAdmin is not settable here,
// only the team-creation bootstrap produces an admin role.
type CreateRoleRequest struct {
	TeamID      int64
	Name        string
	Description string
	IsDefault   bool
	Overrides   PermissionSet
	ActorID     int64
}

// CreateRole creates a role for a team. When IsDefault is set, clearing the
// previous default, marking the new role, and updating the team's default
// pointer happen in one transaction.
func (s *RoleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("role name is required")
	}

	role := &Role{
		TeamID:      req.TeamID,
		Name:        req.Name,
		Description: req.Description,
		IsAdmin:     false,
		IsDefault:   req.IsDefault,
		Permissions: BaselinePermissions().Merge(req.Overrides),
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the team row so concurrent default-role changes serialize.
	if err := teamExists(ctx, tx, req.TeamID, s.store.lockSuffix); err != nil {
		return nil, err
	}

	if req.IsDefault {
		if err := clearTeamDefault(ctx, tx, req.TeamID); err != nil {
			return nil, err
		}
	}
	if err := insertRole(ctx, tx, role); err != nil {
		return nil, err
	}
	if req.IsDefault {
		if err := setTeamDefaultRole(ctx, tx, req.TeamID, role.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role creation: %w", err)
	}

	s.logger.WithFields(map[string]any{
		"team_id": req.TeamID,
		"role_id": role.ID,
		"name":    role.Name,
	}).Info("role created")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventRoleCreate,
		Status:       audit.StatusSuccess,
		ActorID:      req.ActorID,
		TeamID:       req.TeamID,
		ResourceType: audit.ResourceRole,
		ResourceID:   strconv.FormatInt(role.ID, 10),
		Message:      role.Name,
	})
	return role, nil
}

// UpdateRoleRequest carries partial updates for a role. Nil fields are left
// untouched; Overrides merge shallowly onto the stored map.
type UpdateRoleRequest struct {
	Name        *string
	Description *string
	IsAdmin     *bool
	IsDefault   *bool
	Overrides   PermissionSet
	ActorID     int64
}

// UpdateRole applies a partial update. Toggling IsDefault on runs the same
// atomic clear-others/set-this/update-pointer sequence as creation. The admin
// marker is immutable: an admin role stays admin and is never demoted here.
func (s *RoleService) UpdateRole(ctx context.Context, roleID int64, req UpdateRoleRequest) (*Role, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("role name cannot be empty")
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := getRole(ctx, tx, roleID, s.store.lockSuffix)
	if err != nil {
		return nil, err
	}
	if err := teamExists(ctx, tx, role.TeamID, s.store.lockSuffix); err != nil {
		return nil, err
	}

	// The admin marker is immutable. A request that tries to move it is
	// rejected outright rather than silently ignored.
	if req.IsAdmin != nil && *req.IsAdmin != role.IsAdmin {
		if role.IsAdmin {
			return nil, invariant("cannot demote the admin role")
		}
		return nil, invariant("cannot promote a role to admin")
	}

	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Overrides != nil {
		role.Permissions.Merge(req.Overrides)
	}

	setDefault := req.IsDefault != nil && *req.IsDefault && !role.IsDefault
	if req.IsDefault != nil && !*req.IsDefault && role.IsDefault {
		// Unsetting the default directly would leave the team without one;
		// the default moves only when another role takes it over.
		return nil, invariant("cannot unset the default role; make another role the default instead")
	}

	if setDefault {
		if err := clearTeamDefault(ctx, tx, role.TeamID); err != nil {
			return nil, err
		}
		role.IsDefault = true
	}

	if err := updateRoleRow(ctx, tx, role); err != nil {
		return nil, err
	}
	if setDefault {
		if err := setTeamDefaultRole(ctx, tx, role.TeamID, role.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role update: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventRoleUpdate,
		Status:       audit.StatusSuccess,
		ActorID:      req.ActorID,
		TeamID:       role.TeamID,
		ResourceType: audit.ResourceRole,
		ResourceID:   strconv.FormatInt(role.ID, 10),
	})
	return role, nil
}

// DeleteRole deletes a role after checking the guards: the admin role and the
// current default role cannot be deleted, nor can a role any active member
// still holds.
func (s *RoleService) DeleteRole(ctx context.Context, roleID int64, actorID int64) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := getRole(ctx, tx, roleID, s.store.lockSuffix)
	if err != nil {
		return err
	}
	if role.IsAdmin {
		return invariant("cannot delete admin role")
	}
	if role.IsDefault {
		return invariant("cannot delete default role")
	}
	count, err := countActiveMembersWithRole(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if count > 0 {
		return invariant("cannot delete role with active members")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role %d: %w", roleID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role deletion: %w", err)
	}

	s.logger.WithFields(map[string]any{
		"team_id": role.TeamID,
		"role_id": roleID,
	}).Info("role deleted")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventRoleDelete,
		Status:       audit.StatusSuccess,
		ActorID:      actorID,
		TeamID:       role.TeamID,
		ResourceType: audit.ResourceRole,
		ResourceID:   strconv.FormatInt(roleID, 10),
	})
	return nil
}

// GetTeamRoles lists the team's roles.
func (s *RoleService) GetTeamRoles(ctx context.Context, teamID int64) ([]Role, error) {
	return s.store.GetTeamRoles(ctx, teamID)
}

// clearTeamDefault clears is_default on every role of the team. Runs inside
// the caller's transaction; the partial unique index on (team_id) WHERE
// is_default makes a half-applied state impossible to commit.
func clearTeamDefault(ctx context.Context, q querier, teamID int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE roles SET is_default = FALSE WHERE team_id = $1 AND is_default`,
		teamID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear default role for team %d: %w", teamID, err)
	}
	return nil
}
