package authz

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestBootstrapTeamCreatesStarterSet(t *testing.T) {
	store, db := newTestStore(t)
	teamID, creatorID := setupTeam(t, db)

	roles, err := store.GetTeamRoles(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to list roles: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("Expected 3 starter roles, got %d", len(roles))
	}

	admin := roleByName(t, store, teamID, "Admin")
	member := roleByName(t, store, teamID, "Member")
	if !admin.IsAdmin {
		t.Error("Expected Admin role to be the admin")
	}
	if !member.IsDefault {
		t.Error("Expected Member role to be the default")
	}

	// Team default pointer targets the Member role.
	var defaultRoleID sql.NullInt64
	if err := db.QueryRow(`SELECT default_role_id FROM teams WHERE id = $1`, teamID).Scan(&defaultRoleID); err != nil {
		t.Fatalf("Failed to read default role pointer: %v", err)
	}
	if !defaultRoleID.Valid || defaultRoleID.Int64 != member.ID {
		t.Errorf("Expected default_role_id %d, got %+v", member.ID, defaultRoleID)
	}

	// Creator is enrolled as an active admin.
	m, err := store.GetMembership(context.Background(), teamID, creatorID)
	if err != nil {
		t.Fatalf("Failed to get creator membership: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("Expected creator to be active, got %s", m.Status)
	}
	if m.RoleID != admin.ID {
		t.Errorf("Expected creator to hold the admin role %d, got %d", admin.ID, m.RoleID)
	}

	teams, err := store.ListPrincipalTeams(context.Background(), creatorID)
	if err != nil {
		t.Fatalf("Failed to list creator teams: %v", err)
	}
	if len(teams) != 1 || teams[0] != teamID {
		t.Errorf("Expected creator team list [%d], got %v", teamID, teams)
	}
}

func TestBootstrapTeamCustomSeeds(t *testing.T) {
	store, db := newTestStore(t)
	creatorID := createTestUser(t, db, "founder@example.com")
	teamID := createTestTeam(t, db, "design", creatorID)

	seeds := []RoleSeed{
		{Name: "Owner", Admin: true},
		{Name: "Designer", Default: true, Permissions: map[string]bool{"editFiles": true}},
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := BootstrapTeam(context.Background(), tx, teamID, creatorID, seeds); err != nil {
		t.Fatalf("Failed to bootstrap with custom seeds: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	designer := roleByName(t, store, teamID, "Designer")
	if !designer.IsDefault {
		t.Error("Expected Designer to be the default role")
	}
	if !designer.Permissions.Has(PermEditFiles) {
		t.Error("Expected Designer seed override to apply")
	}

	// Admin seeds always materialize with the full set regardless of their
	// permission map.
	owner := roleByName(t, store, teamID, "Owner")
	if !owner.Permissions.Has(PermManageTeam) {
		t.Error("Expected admin seed to carry full permissions")
	}
}

func TestBootstrapTeamRejectsIncompleteSeeds(t *testing.T) {
	_, db := newTestStore(t)
	creatorID := createTestUser(t, db, "founder@example.com")

	cases := []struct {
		name  string
		seeds []RoleSeed
		want  string
	}{
		{
			name:  "no admin",
			seeds: []RoleSeed{{Name: "Member", Default: true}},
			want:  "no admin role",
		},
		{
			name:  "no default",
			seeds: []RoleSeed{{Name: "Owner", Admin: true}},
			want:  "no default role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			teamID := createTestTeam(t, db, "team-"+tc.name, creatorID)

			tx, err := db.Begin()
			if err != nil {
				t.Fatalf("Failed to begin transaction: %v", err)
			}
			defer tx.Rollback()

			err = BootstrapTeam(context.Background(), tx, teamID, creatorID, tc.seeds)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
