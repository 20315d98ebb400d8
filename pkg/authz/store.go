package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the lifecycle managers
// can run the same reads inside their transactions.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists roles and memberships.
type Store struct {
	db *sql.DB

	// lockSuffix is appended to reads that must hold a row lock for the
	// duration of a transaction ("FOR UPDATE" on Postgres). The sqlite test
	// harness clears it; sqlite's single-writer transactions give the same
	// serialization without the clause.
	lockSuffix string
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithoutRowLocks disables FOR UPDATE clauses. Intended for the sqlite-backed
// unit tests; never use against a shared Postgres instance.
func WithoutRowLocks() StoreOption {
	return func(s *Store) { s.lockSuffix = "" }
}

// NewStore creates a Store over the given database handle.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, lockSuffix: " FOR UPDATE"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for callers that need to share a
// transaction with the store (team bootstrap).
func (s *Store) DB() *sql.DB {
	return s.db
}

const roleColumns = `id, team_id, name, description, is_admin, is_default, permissions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(scanner rowScanner) (*Role, error) {
	var role Role
	var description sql.NullString
	var permissionsJSON []byte

	err := scanner.Scan(
		&role.ID,
		&role.TeamID,
		&role.Name,
		&description,
		&role.IsAdmin,
		&role.IsDefault,
		&permissionsJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	role.Permissions = PermissionSet{}
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions for role %d: %w", role.ID, err)
		}
	}

	return &role, nil
}

// GetRole retrieves a role by id.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return getRole(ctx, s.db, roleID, "")
}

func getRole(ctx context.Context, q querier, roleID int64, lockSuffix string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1` + lockSuffix

	role, err := scanRole(q.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %d: %w", roleID, err)
	}
	return role, nil
}

// GetTeamRoles lists all roles of a team, admin role first.
func (s *Store) GetTeamRoles(ctx context.Context, teamID int64) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE team_id = $1 ORDER BY is_admin DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for team %d: %w", teamID, err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetAdminRole returns the team's admin role.
func (s *Store) GetAdminRole(ctx context.Context, teamID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE team_id = $1 AND is_admin`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, teamID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("admin role for team %d: %w", teamID, ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin role for team %d: %w", teamID, err)
	}
	return role, nil
}

func insertRole(ctx context.Context, q querier, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO roles (team_id, name, description, is_admin, is_default, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = q.QueryRowContext(ctx, query,
		role.TeamID,
		role.Name,
		role.Description,
		role.IsAdmin,
		role.IsDefault,
		string(permissionsJSON),
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

func updateRoleRow(ctx context.Context, q querier, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	role.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE roles
		SET name = $1, description = $2, is_default = $3, permissions = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := q.ExecContext(ctx, query,
		role.Name,
		role.Description,
		role.IsDefault,
		string(permissionsJSON),
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role %d: %w", role.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role %d: %w", role.ID, ErrRoleNotFound)
	}
	return nil
}

const membershipColumns = `id, team_id, principal_id, role_id, display_name, status, joined_at,
	invited_by, invite_token, invite_expires_at, notifications, metadata, created_at, updated_at`

func scanMembership(scanner rowScanner) (*Membership, error) {
	var m Membership
	var displayName, inviteToken sql.NullString
	var invitedBy sql.NullInt64
	var inviteExpires sql.NullTime
	var notificationsJSON, metadataJSON []byte

	err := scanner.Scan(
		&m.ID,
		&m.TeamID,
		&m.PrincipalID,
		&m.RoleID,
		&displayName,
		&m.Status,
		&m.JoinedAt,
		&invitedBy,
		&inviteToken,
		&inviteExpires,
		&notificationsJSON,
		&metadataJSON,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.DisplayName = displayName.String
	m.InviteToken = inviteToken.String
	if invitedBy.Valid {
		id := invitedBy.Int64
		m.InvitedBy = &id
	}
	if inviteExpires.Valid {
		t := inviteExpires.Time
		m.InviteExpires = &t
	}
	if len(notificationsJSON) > 0 {
		if err := json.Unmarshal(notificationsJSON, &m.Notifications); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notifications for membership %d: %w", m.ID, err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for membership %d: %w", m.ID, err)
		}
	}

	return &m, nil
}

// GetMembership retrieves the membership for (team, principal), any status.
func (s *Store) GetMembership(ctx context.Context, teamID, principalID int64) (*Membership, error) {
	return getMembership(ctx, s.db, teamID, principalID, "")
}

func getMembership(ctx context.Context, q querier, teamID, principalID int64, lockSuffix string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE team_id = $1 AND principal_id = $2` + lockSuffix

	m, err := scanMembership(q.QueryRowContext(ctx, query, teamID, principalID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("principal %d in team %d: %w", principalID, teamID, ErrMembershipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembershipByToken retrieves an invitation by its token.
func (s *Store) GetMembershipByToken(ctx context.Context, token string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE invite_token = $1`

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, token))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invitation token: %w", ErrMembershipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return m, nil
}

// ListTeamMembers lists every membership of a team regardless of status.
func (s *Store) ListTeamMembers(ctx context.Context, teamID int64) ([]Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE team_id = $1 ORDER BY joined_at ASC`
	return s.listMemberships(ctx, query, teamID)
}

// ListActiveMembers lists the active memberships of a team.
func (s *Store) ListActiveMembers(ctx context.Context, teamID int64) ([]Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE team_id = $1 AND status = $2 ORDER BY joined_at ASC`
	return s.listMemberships(ctx, query, teamID, StatusActive)
}

func (s *Store) listMemberships(ctx context.Context, query string, args ...any) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func countActiveMembersWithRole(ctx context.Context, q querier, roleID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_members WHERE role_id = $1 AND status = $2`,
		roleID, StatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active members for role %d: %w", roleID, err)
	}
	return count, nil
}

func insertMembership(ctx context.Context, q querier, m *Membership) error {
	notificationsJSON, err := json.Marshal(m.Notifications)
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}
	var metadataJSON any
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	now := time.Now().UTC()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = now
	}
	query := `
		INSERT INTO team_members (team_id, principal_id, role_id, display_name, status, joined_at,
			invited_by, invite_token, invite_expires_at, notifications, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err = q.QueryRowContext(ctx, query,
		m.TeamID,
		m.PrincipalID,
		m.RoleID,
		nullString(m.DisplayName),
		m.Status,
		m.JoinedAt,
		m.InvitedBy,
		nullString(m.InviteToken),
		m.InviteExpires,
		string(notificationsJSON),
		metadataJSON,
		now,
		now,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func updateMembershipRow(ctx context.Context, q querier, m *Membership) error {
	notificationsJSON, err := json.Marshal(m.Notifications)
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}
	var metadataJSON any
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	m.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE team_members
		SET role_id = $1, display_name = $2, status = $3, joined_at = $4, invited_by = $5,
			invite_token = $6, invite_expires_at = $7, notifications = $8, metadata = $9, updated_at = $10
		WHERE id = $11
	`
	result, err := q.ExecContext(ctx, query,
		m.RoleID,
		nullString(m.DisplayName),
		m.Status,
		m.JoinedAt,
		m.InvitedBy,
		nullString(m.InviteToken),
		m.InviteExpires,
		string(notificationsJSON),
		metadataJSON,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership %d: %w", m.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("membership %d: %w", m.ID, ErrMembershipNotFound)
	}
	return nil
}

// addUserTeam records the team in the principal's denormalized team list.
// Callers must run it in the same transaction as the membership write.
func addUserTeam(ctx context.Context, q querier, principalID, teamID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_teams (principal_id, team_id)
		VALUES ($1, $2)
		ON CONFLICT (principal_id, team_id) DO NOTHING
	`, principalID, teamID)
	if err != nil {
		return fmt.Errorf("failed to add team %d to principal %d team list: %w", teamID, principalID, err)
	}
	return nil
}

// removeUserTeam removes the team from the principal's denormalized team list.
func removeUserTeam(ctx context.Context, q querier, principalID, teamID int64) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM user_teams WHERE principal_id = $1 AND team_id = $2`,
		principalID, teamID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove team %d from principal %d team list: %w", teamID, principalID, err)
	}
	return nil
}

// ListPrincipalTeams returns the team ids from the principal's denormalized
// team list.
func (s *Store) ListPrincipalTeams(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id FROM user_teams WHERE principal_id = $1 ORDER BY team_id ASC`,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams for principal %d: %w", principalID, err)
	}
	defer rows.Close()

	var teams []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan team id: %w", err)
		}
		teams = append(teams, id)
	}
	return teams, rows.Err()
}

// ResolvePrincipalByEmail maps an email address to a principal id.
func (s *Store) ResolvePrincipalByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("email %s: %w", email, ErrPrincipalNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve principal by email: %w", err)
	}
	return id, nil
}

// GetResourceTeam resolves the team that owns a resource.
func (s *Store) GetResourceTeam(ctx context.Context, kind ResourceKind, resourceID int64) (int64, error) {
	var teamID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT team_id FROM resources WHERE id = $1 AND kind = $2`,
		resourceID, kind,
	).Scan(&teamID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%s %d: %w", kind, resourceID, ErrTeamNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve team for %s %d: %w", kind, resourceID, err)
	}
	return teamID, nil
}

// teamExists checks team existence, optionally holding a row lock so that
// multi-document invariant updates serialize per team.
func teamExists(ctx context.Context, q querier, teamID int64, lockSuffix string) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM teams WHERE id = $1`+lockSuffix, teamID).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("team %d: %w", teamID, ErrTeamNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check team %d: %w", teamID, err)
	}
	return nil
}

// setTeamDefaultRole updates the team's default-role pointer. Must run in the
// same transaction as the role writes it accompanies.
func setTeamDefaultRole(ctx context.Context, q querier, teamID, roleID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE teams SET default_role_id = $1, updated_at = $2 WHERE id = $3`,
		roleID, time.Now().UTC(), teamID,
	)
	if err != nil {
		return fmt.Errorf("failed to set default role for team %d: %w", teamID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("team %d: %w", teamID, ErrTeamNotFound)
	}
	return nil
}

// getTeamDefaultRole reads the team's default-role pointer.
func getTeamDefaultRole(ctx context.Context, q querier, teamID int64) (int64, error) {
	var roleID sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT default_role_id FROM teams WHERE id = $1`, teamID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("team %d: %w", teamID, ErrTeamNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get default role for team %d: %w", teamID, err)
	}
	if !roleID.Valid {
		return 0, fmt.Errorf("default role for team %d: %w", teamID, ErrRoleNotFound)
	}
	return roleID.Int64, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
