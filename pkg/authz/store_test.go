package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB opens an in-memory sqlite database with a mirror of the authz
// schema. sqlite supports the partial unique indexes the Postgres schema
// relies on, so the one-admin/one-default invariants hold in tests too.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE teams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			description TEXT,
			creator_id INTEGER NOT NULL,
			default_role_id INTEGER,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			permissions TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(team_id, name)
		);
		CREATE UNIQUE INDEX idx_roles_one_admin ON roles(team_id) WHERE is_admin;
		CREATE UNIQUE INDEX idx_roles_one_default ON roles(team_id) WHERE is_default;

		CREATE TABLE team_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id INTEGER NOT NULL,
			principal_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			display_name TEXT,
			status TEXT NOT NULL,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			invited_by INTEGER,
			invite_token TEXT,
			invite_expires_at TIMESTAMP,
			notifications TEXT NOT NULL DEFAULT '{}',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(team_id, principal_id)
		);

		CREATE TABLE user_teams (
			principal_id INTEGER NOT NULL,
			team_id INTEGER NOT NULL,
			PRIMARY KEY (principal_id, team_id)
		);

		CREATE TABLE resources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return db
}

// newTestStore returns a store over a fresh in-memory database. Row locks are
// disabled because sqlite rejects FOR UPDATE.
func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, WithoutRowLocks()), db
}

func createTestUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow(
		`INSERT INTO users (email, display_name) VALUES ($1, $2) RETURNING id`,
		email, email,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test user %s: %v", email, err)
	}
	return id
}

func createTestTeam(t *testing.T, db *sql.DB, name string, creatorID int64) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow(
		`INSERT INTO teams (name, slug, creator_id) VALUES ($1, $2, $3) RETURNING id`,
		name, fmt.Sprintf("%s-%d", name, creatorID), creatorID,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test team %s: %v", name, err)
	}
	return id
}

// setupTeam creates a user, a team, and runs the starter-role bootstrap. It is
// the common starting point for lifecycle and evaluation tests.
func setupTeam(t *testing.T, db *sql.DB) (teamID, creatorID int64) {
	t.Helper()

	creatorID = createTestUser(t, db, fmt.Sprintf("owner-%s@example.com", t.Name()))
	teamID = createTestTeam(t, db, "engineering", creatorID)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin bootstrap transaction: %v", err)
	}
	if err := BootstrapTeam(context.Background(), tx, teamID, creatorID, nil); err != nil {
		tx.Rollback()
		t.Fatalf("Failed to bootstrap team: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit bootstrap: %v", err)
	}
	return teamID, creatorID
}

func roleByName(t *testing.T, store *Store, teamID int64, name string) *Role {
	t.Helper()

	roles, err := store.GetTeamRoles(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to list roles: %v", err)
	}
	for i := range roles {
		if roles[i].Name == name {
			return &roles[i]
		}
	}
	t.Fatalf("Role %q not found in team %d", name, teamID)
	return nil
}

func createTestResource(t *testing.T, db *sql.DB, teamID int64, kind ResourceKind) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow(
		`INSERT INTO resources (team_id, kind) VALUES ($1, $2) RETURNING id`,
		teamID, kind,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test resource: %v", err)
	}
	return id
}

func TestGetRoleNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetRole(context.Background(), 9999)
	if !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("Expected ErrRoleNotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("Expected IsNotFound to be true for %v", err)
	}
}

func TestGetMembershipNotFound(t *testing.T) {
	store, db := newTestStore(t)
	teamID, _ := setupTeam(t, db)

	_, err := store.GetMembership(context.Background(), teamID, 9999)
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("Expected ErrMembershipNotFound, got %v", err)
	}
}

func TestGetAdminRole(t *testing.T) {
	store, db := newTestStore(t)
	teamID, _ := setupTeam(t, db)

	role, err := store.GetAdminRole(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to get admin role: %v", err)
	}
	if !role.IsAdmin {
		t.Error("Expected admin role to have IsAdmin set")
	}
	if role.Name != "Admin" {
		t.Errorf("Expected starter admin role name Admin, got %q", role.Name)
	}
}

func TestGetTeamRolesOrdering(t *testing.T) {
	store, db := newTestStore(t)
	teamID, _ := setupTeam(t, db)

	roles, err := store.GetTeamRoles(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to list roles: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("Expected 3 starter roles, got %d", len(roles))
	}
	if !roles[0].IsAdmin {
		t.Errorf("Expected admin role first, got %q", roles[0].Name)
	}
}

func TestResolvePrincipalByEmail(t *testing.T) {
	store, db := newTestStore(t)
	userID := createTestUser(t, db, "alice@example.com")

	id, err := store.ResolvePrincipalByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Failed to resolve principal: %v", err)
	}
	if id != userID {
		t.Errorf("Expected principal %d, got %d", userID, id)
	}

	_, err = store.ResolvePrincipalByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("Expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestListPrincipalTeams(t *testing.T) {
	store, db := newTestStore(t)
	teamID, creatorID := setupTeam(t, db)

	teams, err := store.ListPrincipalTeams(context.Background(), creatorID)
	if err != nil {
		t.Fatalf("Failed to list principal teams: %v", err)
	}
	if len(teams) != 1 || teams[0] != teamID {
		t.Errorf("Expected [%d], got %v", teamID, teams)
	}

	teams, err = store.ListPrincipalTeams(context.Background(), 9999)
	if err != nil {
		t.Fatalf("Failed to list teams for unknown principal: %v", err)
	}
	if len(teams) != 0 {
		t.Errorf("Expected no teams for unknown principal, got %v", teams)
	}
}

func TestListActiveMembersFiltersStatus(t *testing.T) {
	store, db := newTestStore(t)
	teamID, creatorID := setupTeam(t, db)

	// Insert an inactive membership directly alongside the active creator.
	other := createTestUser(t, db, "inactive@example.com")
	guest := roleByName(t, store, teamID, "Guest")
	_, err := db.Exec(`
		INSERT INTO team_members (team_id, principal_id, role_id, status, notifications)
		VALUES ($1, $2, $3, $4, '{}')
	`, teamID, other, guest.ID, StatusInactive)
	if err != nil {
		t.Fatalf("Failed to insert inactive membership: %v", err)
	}

	active, err := store.ListActiveMembers(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to list active members: %v", err)
	}
	if len(active) != 1 || active[0].PrincipalID != creatorID {
		t.Errorf("Expected only the creator to be active, got %+v", active)
	}

	all, err := store.ListTeamMembers(context.Background(), teamID)
	if err != nil {
		t.Fatalf("Failed to list all members: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 memberships in total, got %d", len(all))
	}
}

func TestGetResourceTeam(t *testing.T) {
	store, db := newTestStore(t)
	teamID, _ := setupTeam(t, db)
	resourceID := createTestResource(t, db, teamID, ResourceTask)

	got, err := store.GetResourceTeam(context.Background(), ResourceTask, resourceID)
	if err != nil {
		t.Fatalf("Failed to resolve resource team: %v", err)
	}
	if got != teamID {
		t.Errorf("Expected team %d, got %d", teamID, got)
	}

	// Kind mismatch resolves nothing.
	_, err = store.GetResourceTeam(context.Background(), ResourceGoal, resourceID)
	if !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("Expected ErrTeamNotFound for kind mismatch, got %v", err)
	}
}

func TestRolePermissionsRoundTrip(t *testing.T) {
	store, db := newTestStore(t)
	teamID, _ := setupTeam(t, db)

	member := roleByName(t, store, teamID, "Member")
	got, err := store.GetRole(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("Failed to get role: %v", err)
	}
	if !got.Permissions.Has(PermCreateTasks) {
		t.Error("Expected Member role to grant createTasks")
	}
	if got.Permissions.Has(PermManageTeamRoles) {
		t.Error("Expected Member role to deny manageTeamRoles")
	}
}
