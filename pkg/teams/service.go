package teams

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huddlehq/huddle/pkg/audit"
	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/observability"
)

// Service manages the team lifecycle. Team creation and the authorization
// bootstrap (starter roles, creator's admin membership) commit in a single
// transaction.
type Service struct {
	db     *sql.DB
	store  *authz.Store
	seeds  []authz.RoleSeed
	logger *observability.Logger
	audit  audit.Recorder
}

// NewService creates a team service over the authz store's database handle.
// seeds may be nil to use the built-in starter roles.
func NewService(store *authz.Store, seeds []authz.RoleSeed, logger *observability.Logger, rec audit.Recorder) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &Service{
		db:     store.DB(),
		store:  store,
		seeds:  seeds,
		logger: logger,
		audit:  rec,
	}
}

const teamColumns = `id, name, slug, description, creator_id, default_role_id, status, created_at, updated_at`

func scanTeam(scanner interface{ Scan(dest ...any) error }) (*Team, error) {
	var team Team
	var description sql.NullString
	var defaultRoleID sql.NullInt64

	err := scanner.Scan(
		&team.ID,
		&team.Name,
		&team.Slug,
		&description,
		&team.CreatorID,
		&defaultRoleID,
		&team.Status,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	team.Description = description.String
	if defaultRoleID.Valid {
		id := defaultRoleID.Int64
		team.DefaultRoleID = &id
	}
	return &team, nil
}

// CreateTeam creates a team and bootstraps its starter roles and the
// creator's admin membership in one transaction.
func (s *Service) CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("team name is required")
	}
	slug := req.Slug
	if slug == "" {
		slug = generateSlug(req.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var teamID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO teams (name, slug, description, creator_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, req.Name, slug, req.Description, req.CreatorID, StatusActive, now, now).Scan(&teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	if err := authz.BootstrapTeam(ctx, tx, teamID, req.CreatorID, s.seeds); err != nil {
		return nil, fmt.Errorf("failed to bootstrap team %d: %w", teamID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team creation: %w", err)
	}

	s.logger.WithFields(map[string]any{
		"team_id":    teamID,
		"creator_id": req.CreatorID,
		"slug":       slug,
	}).Info("team created")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventTeamCreate,
		Status:       audit.StatusSuccess,
		ActorID:      req.CreatorID,
		TeamID:       teamID,
		ResourceType: audit.ResourceTeam,
		ResourceID:   strconv.FormatInt(teamID, 10),
		Message:      req.Name,
	})

	// Re-read so the default-role pointer set by the bootstrap is populated.
	return s.GetTeam(ctx, teamID)
}

// GetTeam retrieves a team by id, including soft-deleted teams.
func (s *Service) GetTeam(ctx context.Context, teamID int64) (*Team, error) {
	team, err := scanTeam(s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, teamID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("team %d: %w", teamID, authz.ErrTeamNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team %d: %w", teamID, err)
	}
	return team, nil
}

// GetTeamBySlug retrieves a team by its slug.
func (s *Service) GetTeamBySlug(ctx context.Context, slug string) (*Team, error) {
	team, err := scanTeam(s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE slug = $1`, slug))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("team %q: %w", slug, authz.ErrTeamNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team %q: %w", slug, err)
	}
	return team, nil
}

// ListPrincipalTeams lists the active teams the principal belongs to, newest
// first. The membership set comes from the denormalized user_teams list.
func (s *Service) ListPrincipalTeams(ctx context.Context, principalID int64) ([]*Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.description, t.creator_id, t.default_role_id, t.status, t.created_at, t.updated_at
		FROM teams t
		JOIN user_teams ut ON ut.team_id = t.id
		WHERE ut.principal_id = $1 AND t.status = $2
		ORDER BY t.created_at DESC
	`, principalID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams for principal %d: %w", principalID, err)
	}
	defer rows.Close()

	var list []*Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		list = append(list, team)
	}
	return list, rows.Err()
}

// UpdateTeam applies a partial update to a team.
func (s *Service) UpdateTeam(ctx context.Context, teamID int64, req UpdateTeamRequest) (*Team, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("team name cannot be empty")
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *req.Name)
		argPos++
	}
	if req.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *req.Description)
		argPos++
	}
	if len(setClauses) == 0 {
		return s.GetTeam(ctx, teamID)
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++
	args = append(args, teamID)

	query := fmt.Sprintf("UPDATE teams SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update team %d: %w", teamID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("team %d: %w", teamID, authz.ErrTeamNotFound)
	}

	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventTeamUpdate,
		Status:       audit.StatusSuccess,
		ActorID:      req.ActorID,
		TeamID:       teamID,
		ResourceType: audit.ResourceTeam,
		ResourceID:   strconv.FormatInt(teamID, 10),
	})
	return s.GetTeam(ctx, teamID)
}

// DeleteTeam soft-deletes a team. Roles and memberships stay in place; the
// team just stops appearing in listings.
func (s *Service) DeleteTeam(ctx context.Context, teamID int64, actorID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET status = $1, updated_at = $2 WHERE id = $3 AND status != $1`,
		StatusDeleted, time.Now().UTC(), teamID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete team %d: %w", teamID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("team %d: %w", teamID, authz.ErrTeamNotFound)
	}

	s.logger.WithField("team_id", teamID).Info("team deleted")
	s.audit.Record(ctx, audit.Event{
		EventType:    audit.EventTeamDelete,
		Status:       audit.StatusSuccess,
		ActorID:      actorID,
		TeamID:       teamID,
		ResourceType: audit.ResourceTeam,
		ResourceID:   strconv.FormatInt(teamID, 10),
	})
	return nil
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
