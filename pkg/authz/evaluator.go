package authz

import (
	"context"
	"time"

	"github.com/huddlehq/huddle/pkg/observability"
)

// Evaluator decides whether a principal may perform an action within a team.
// It is read-only and fail-closed: every error path, including store failures
// and dangling role references, evaluates to deny. Authorization reads always
// go to the store; results are never cached across requests.
type Evaluator struct {
	store  *Store
	logger *observability.Logger
}

// NewEvaluator creates an Evaluator over the given store.
func NewEvaluator(store *Store, logger *observability.Logger) *Evaluator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Evaluator{store: store, logger: logger}
}

// HasPermission reports whether the principal's active membership in the team
// grants the flag. Non-members, non-active members, dangling roles, and store
// errors all evaluate to false. Admin roles grant every flag unconditionally.
func (e *Evaluator) HasPermission(ctx context.Context, principalID, teamID int64, flag PermissionFlag) bool {
	start := time.Now()
	allowed := e.hasPermission(ctx, principalID, teamID, flag)
	observability.RecordPermissionCheck(string(flag), allowed, time.Since(start))
	return allowed
}

func (e *Evaluator) hasPermission(ctx context.Context, principalID, teamID int64, flag PermissionFlag) bool {
	role, ok := e.resolveActiveRole(ctx, principalID, teamID)
	if !ok {
		return false
	}
	if role.IsAdmin {
		return true
	}
	return role.Permissions.Has(flag)
}

// IsTeamAdmin reports whether the principal holds the team's admin role
// through an active membership.
func (e *Evaluator) IsTeamAdmin(ctx context.Context, principalID, teamID int64) bool {
	role, ok := e.resolveActiveRole(ctx, principalID, teamID)
	return ok && role.IsAdmin
}

// GetUserPermissions returns the principal's effective permission set for the
// team. Non-members get an empty (deny-everything) set rather than an error so
// the result is always safe to render.
func (e *Evaluator) GetUserPermissions(ctx context.Context, principalID, teamID int64) PermissionSet {
	role, ok := e.resolveActiveRole(ctx, principalID, teamID)
	if !ok {
		return PermissionSet{}
	}
	if role.IsAdmin {
		return FullPermissions()
	}

	set := make(PermissionSet, len(AllPermissionFlags()))
	for _, flag := range AllPermissionFlags() {
		set[flag] = role.Permissions.Has(flag)
	}
	return set
}

// GetUsersWithPermission returns the principals whose active membership grants
// the flag. Each distinct role is evaluated once rather than per member.
func (e *Evaluator) GetUsersWithPermission(ctx context.Context, teamID int64, flag PermissionFlag) ([]int64, error) {
	members, err := e.store.ListActiveMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}

	byRole := make(map[int64][]int64)
	for _, m := range members {
		byRole[m.RoleID] = append(byRole[m.RoleID], m.PrincipalID)
	}

	var principals []int64
	for roleID, holders := range byRole {
		role, err := e.store.GetRole(ctx, roleID)
		if err != nil {
			// Dangling role reference: the holders have no effective
			// permissions, same as the single-principal path.
			e.logger.WithError(err).WithField("role_id", roleID).
				Warn("skipping members with unresolvable role")
			continue
		}
		if role.IsAdmin || role.Permissions.Has(flag) {
			principals = append(principals, holders...)
		}
	}
	return principals, nil
}

// resourceActionFlags maps (resource kind, action) to the permission flag that
// gates it. Pairs absent from the table deny.
var resourceActionFlags = map[ResourceKind]map[ResourceAction]PermissionFlag{
	ResourceTask: {
		ActionView:   PermViewTasks,
		ActionCreate: PermCreateTasks,
		ActionEdit:   PermEditTasks,
		ActionDelete: PermDeleteTasks,
	},
	ResourceGoal: {
		ActionView:   PermViewGoals,
		ActionCreate: PermCreateGoals,
		ActionEdit:   PermEditGoals,
		ActionDelete: PermDeleteGoals,
	},
	ResourceFile: {
		ActionView:   PermViewFiles,
		ActionCreate: PermUploadFiles,
		ActionEdit:   PermEditFiles,
		ActionDelete: PermDeleteFiles,
	},
	ResourceEvent: {
		ActionView:   PermViewCalendar,
		ActionCreate: PermCreateEvents,
		ActionEdit:   PermEditEvents,
		ActionDelete: PermDeleteEvents,
	},
	ResourceChannel: {
		ActionView:   PermViewChannels,
		ActionCreate: PermCreateChannels,
		ActionEdit:   PermManageChannels,
		ActionDelete: PermManageChannels,
	},
	ResourceGeneric: {
		ActionView:   PermViewResources,
		ActionCreate: PermManageResources,
		ActionEdit:   PermManageResources,
		ActionDelete: PermManageResources,
	},
}

// FlagForResourceAction resolves the permission flag gating an action on a
// resource kind. The second return is false for unknown pairs.
func FlagForResourceAction(kind ResourceKind, action ResourceAction) (PermissionFlag, bool) {
	actions, ok := resourceActionFlags[kind]
	if !ok {
		return "", false
	}
	flag, ok := actions[action]
	return flag, ok
}

// CanAccessResource resolves the resource's owning team and checks the flag
// that gates the action. Unknown (kind, action) pairs and unresolvable
// resources deny.
func (e *Evaluator) CanAccessResource(ctx context.Context, principalID int64, kind ResourceKind, resourceID int64, action ResourceAction) bool {
	flag, ok := FlagForResourceAction(kind, action)
	if !ok {
		return false
	}

	teamID, err := e.store.GetResourceTeam(ctx, kind, resourceID)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]any{
			"kind":        string(kind),
			"resource_id": resourceID,
		}).Debug("resource access denied: team resolution failed")
		return false
	}

	return e.HasPermission(ctx, principalID, teamID, flag)
}

// resolveActiveRole looks up the principal's active membership and its role.
// The false return covers every deny condition: no membership, non-active
// status, dangling role, or store failure.
func (e *Evaluator) resolveActiveRole(ctx context.Context, principalID, teamID int64) (*Role, bool) {
	membership, err := e.store.GetMembership(ctx, teamID, principalID)
	if err != nil {
		if !IsNotFound(err) {
			e.logger.WithError(err).WithFields(map[string]any{
				"principal_id": principalID,
				"team_id":      teamID,
			}).Warn("permission check failed closed on membership lookup")
		}
		return nil, false
	}
	if membership.Status != StatusActive {
		return nil, false
	}

	role, err := e.store.GetRole(ctx, membership.RoleID)
	if err != nil {
		if !IsNotFound(err) {
			e.logger.WithError(err).WithField("role_id", membership.RoleID).
				Warn("permission check failed closed on role lookup")
		}
		return nil, false
	}
	return role, true
}
