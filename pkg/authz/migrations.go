package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the authz schema in apply order. The users table is
// written by the identity service; it is created here only so a fresh
// database is usable before that service has run its own migrations.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table (identity service owns the rows)",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create teams table",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					creator_id BIGINT NOT NULL REFERENCES users(id),
					default_role_id BIGINT,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_teams_creator_id ON teams(creator_id);
			`,
		},
		{
			Version:     3,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					permissions JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(team_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_team_id ON roles(team_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_one_admin
					ON roles(team_id) WHERE is_admin;
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_one_default
					ON roles(team_id) WHERE is_default;
			`,
		},
		{
			Version:     4,
			Description: "Create team_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_members (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					principal_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					display_name VARCHAR(255),
					status VARCHAR(32) NOT NULL,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					invite_token VARCHAR(64),
					invite_expires_at TIMESTAMP,
					notifications JSONB NOT NULL DEFAULT '{}',
					metadata JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(team_id, principal_id)
				);

				CREATE INDEX IF NOT EXISTS idx_team_members_team_id ON team_members(team_id);
				CREATE INDEX IF NOT EXISTS idx_team_members_principal_id ON team_members(principal_id);
				CREATE INDEX IF NOT EXISTS idx_team_members_role_id ON team_members(role_id);
				CREATE INDEX IF NOT EXISTS idx_team_members_invite_token ON team_members(invite_token);
			`,
		},
		{
			Version:     5,
			Description: "Create user_teams denormalized membership list",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_teams (
					principal_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					PRIMARY KEY (principal_id, team_id)
				);
			`,
		},
		{
			Version:     6,
			Description: "Create resources table for access-check team resolution",
			SQL: `
				CREATE TABLE IF NOT EXISTS resources (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					kind VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_resources_team_id ON resources(team_id);
			`,
		},
	}
}

// RunMigrations applies all authz migrations in order, tracking the applied
// version in schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component VARCHAR(64) NOT NULL,
			version INT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (component, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range Migrations() {
		var applied int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE component = $1 AND version = $2`,
			"authz", m.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (component, version) VALUES ($1, $2)`,
			"authz", m.Version,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
