package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTeamCreate EventType = "team.create"
	EventTeamUpdate EventType = "team.update"
	EventTeamDelete EventType = "team.delete"

	EventRoleCreate EventType = "role.create"
	EventRoleUpdate EventType = "role.update"
	EventRoleDelete EventType = "role.delete"

	EventMemberAdd    EventType = "member.add"
	EventMemberInvite EventType = "member.invite"
	EventMemberAccept EventType = "member.accept"
	EventMemberUpdate EventType = "member.update"
	EventMemberRemove EventType = "member.remove"

	EventAccessDenied EventType = "access.denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTeam   ResourceType = "team"
	ResourceRole   ResourceType = "role"
	ResourceMember ResourceType = "member"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID int64 `json:"actor_id,omitempty"`
	TeamID  int64 `json:"team_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Filter narrows an audit log search. Zero-valued fields are ignored.
type Filter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID *int64
	TeamID  *int64

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}
