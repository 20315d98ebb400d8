package teams

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlehq/huddle/pkg/authz"
)

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple name",
			input:    "Engineering",
			expected: "engineering",
		},
		{
			name:     "name with spaces",
			input:    "Platform Team",
			expected: "platform-team",
		},
		{
			name:     "name with digits and dashes",
			input:    "Team-42",
			expected: "team-42",
		},
		{
			name:     "name with invalid chars",
			input:    "Growth & Revenue!",
			expected: "growth--revenue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, generateSlug(tt.input))
		})
	}
}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(authz.NewStore(db), nil, nil, nil), mock
}

func teamRows(teams ...*Team) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "slug", "description", "creator_id",
		"default_role_id", "status", "created_at", "updated_at",
	})
	for _, team := range teams {
		var defaultRoleID interface{}
		if team.DefaultRoleID != nil {
			defaultRoleID = *team.DefaultRoleID
		}
		rows.AddRow(team.ID, team.Name, team.Slug, team.Description, team.CreatorID,
			defaultRoleID, team.Status, team.CreatedAt, team.UpdatedAt)
	}
	return rows
}

func TestGetTeam(t *testing.T) {
	svc, mock := newMockService(t)

	defaultRole := int64(7)
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM teams WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(teamRows(&Team{
			ID: 42, Name: "Engineering", Slug: "engineering", CreatorID: 1,
			DefaultRoleID: &defaultRole, Status: StatusActive,
			CreatedAt: now, UpdatedAt: now,
		}))

	team, err := svc.GetTeam(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), team.ID)
	assert.Equal(t, "engineering", team.Slug)
	require.NotNil(t, team.DefaultRoleID)
	assert.Equal(t, int64(7), *team.DefaultRoleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTeamNotFound(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT (.+) FROM teams WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.GetTeam(context.Background(), 42)
	assert.ErrorIs(t, err, authz.ErrTeamNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTeamBySlug(t *testing.T) {
	svc, mock := newMockService(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM teams WHERE slug = \$1`).
		WithArgs("engineering").
		WillReturnRows(teamRows(&Team{
			ID: 42, Name: "Engineering", Slug: "engineering", CreatorID: 1,
			Status: StatusActive, CreatedAt: now, UpdatedAt: now,
		}))

	team, err := svc.GetTeamBySlug(context.Background(), "engineering")
	require.NoError(t, err)
	assert.Equal(t, int64(42), team.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPrincipalTeams(t *testing.T) {
	svc, mock := newMockService(t)

	now := time.Now()
	mock.ExpectQuery(`JOIN user_teams ut ON ut.team_id = t.id`).
		WithArgs(int64(5), StatusActive).
		WillReturnRows(teamRows(
			&Team{ID: 2, Name: "Design", Slug: "design", CreatorID: 5, Status: StatusActive, CreatedAt: now, UpdatedAt: now},
			&Team{ID: 1, Name: "Engineering", Slug: "engineering", CreatorID: 1, Status: StatusActive, CreatedAt: now.Add(-time.Hour), UpdatedAt: now},
		))

	teams, err := svc.ListPrincipalTeams(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "design", teams[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTeam(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec(`UPDATE teams SET name = \$1, description = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("Platform", "Shared infrastructure", sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM teams WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(teamRows(&Team{
			ID: 42, Name: "Platform", Slug: "engineering", Description: "Shared infrastructure",
			CreatorID: 1, Status: StatusActive, CreatedAt: now, UpdatedAt: now,
		}))

	name := "Platform"
	desc := "Shared infrastructure"
	team, err := svc.UpdateTeam(context.Background(), 42, UpdateTeamRequest{
		Name:        &name,
		Description: &desc,
		ActorID:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Platform", team.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTeamNoFields(t *testing.T) {
	svc, mock := newMockService(t)

	// With nothing to change the update degrades to a read.
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM teams WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(teamRows(&Team{
			ID: 42, Name: "Engineering", Slug: "engineering", CreatorID: 1,
			Status: StatusActive, CreatedAt: now, UpdatedAt: now,
		}))

	_, err := svc.UpdateTeam(context.Background(), 42, UpdateTeamRequest{ActorID: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTeamNotFound(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec(`UPDATE teams SET name = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("Platform", sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	name := "Platform"
	_, err := svc.UpdateTeam(context.Background(), 42, UpdateTeamRequest{Name: &name})
	assert.ErrorIs(t, err, authz.ErrTeamNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTeam(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec(`UPDATE teams SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status != \$1`).
		WithArgs(StatusDeleted, sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteTeam(context.Background(), 42, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTeamAlreadyDeleted(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec(`UPDATE teams SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status != \$1`).
		WithArgs(StatusDeleted, sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.DeleteTeam(context.Background(), 42, 1)
	assert.ErrorIs(t, err, authz.ErrTeamNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTeamValidation(t *testing.T) {
	svc, _ := newMockService(t)

	_, err := svc.CreateTeam(context.Background(), CreateTeamRequest{Name: "   ", CreatorID: 1})
	assert.Error(t, err)
}
