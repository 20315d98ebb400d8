package teams

import (
	"time"
)

// TeamStatus is the lifecycle state of a team. Deletion is soft; the row and
// its roles and memberships are retained.
type TeamStatus string

const (
	StatusActive  TeamStatus = "active"
	StatusDeleted TeamStatus = "deleted"
)

// Team is a collaboration space. Roles and memberships hang off it; the
// default-role pointer names the role assigned on invitation acceptance.
type Team struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description,omitempty"`
	CreatorID     int64      `json:"creator_id"`
	DefaultRoleID *int64     `json:"default_role_id,omitempty"`
	Status        TeamStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateTeamRequest carries the inputs for team creation.
type CreateTeamRequest struct {
	Name        string
	Slug        string
	Description string
	CreatorID   int64
}

// UpdateTeamRequest carries partial team updates. Nil fields are untouched.
type UpdateTeamRequest struct {
	Name        *string
	Description *string
	ActorID     int64
}
