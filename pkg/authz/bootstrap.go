package authz

import (
	"context"
	"fmt"
	"time"
)

// BootstrapTeam creates a new team's starter roles inside the caller's
// transaction and enrolls the creator as an active admin. This is the only
// code path that creates an admin role; RoleService never will. The caller
// owns the transaction so team row creation and role bootstrap commit or roll
// back together.
func BootstrapTeam(ctx context.Context, tx querier, teamID, creatorID int64, seeds []RoleSeed) error {
	if len(seeds) == 0 {
		seeds = StarterRoles()
	}
	roles := rolesFromSeeds(seeds)

	var adminID, defaultID int64
	for i := range roles {
		roles[i].TeamID = teamID
		if err := insertRole(ctx, tx, &roles[i]); err != nil {
			return fmt.Errorf("failed to create starter role %q: %w", roles[i].Name, err)
		}
		if roles[i].IsAdmin {
			adminID = roles[i].ID
		}
		if roles[i].IsDefault {
			defaultID = roles[i].ID
		}
	}
	if adminID == 0 {
		return fmt.Errorf("starter roles define no admin role")
	}
	if defaultID == 0 {
		return fmt.Errorf("starter roles define no default role")
	}

	if err := setTeamDefaultRole(ctx, tx, teamID, defaultID); err != nil {
		return err
	}

	m := &Membership{
		TeamID:        teamID,
		PrincipalID:   creatorID,
		RoleID:        adminID,
		Status:        StatusActive,
		JoinedAt:      time.Now().UTC(),
		Notifications: DefaultNotificationPrefs(),
	}
	if err := insertMembership(ctx, tx, m); err != nil {
		return fmt.Errorf("failed to enroll team creator: %w", err)
	}
	return addUserTeam(ctx, tx, creatorID, teamID)
}

// rolesFromSeeds materializes configured role seeds. Exactly one seed must be
// the admin and one the default; BootstrapTeam rejects seed sets that miss
// either.
func rolesFromSeeds(seeds []RoleSeed) []Role {
	roles := make([]Role, 0, len(seeds))
	for _, seed := range seeds {
		perms := seed.SeedPermissions()
		if seed.Admin {
			perms = FullPermissions()
		}
		roles = append(roles, Role{
			Name:        seed.Name,
			Description: seed.Description,
			IsAdmin:     seed.Admin,
			IsDefault:   seed.Default,
			Permissions: perms,
		})
	}
	return roles
}
