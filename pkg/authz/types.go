package authz

import (
	"time"
)

// PermissionFlag is a single boolean capability in the closed permission set.
// The set is versioned with the application: adding a capability means adding
// a constant here and giving it a default in BaselinePermissions.
type PermissionFlag string

// Team management
const (
	PermViewTeam          PermissionFlag = "viewTeam"
	PermManageTeam        PermissionFlag = "manageTeam"
	PermManageTeamRoles   PermissionFlag = "manageTeamRoles"
	PermManageTeamMembers PermissionFlag = "manageTeamMembers"
)

// Tasks
const (
	PermViewTasks   PermissionFlag = "viewTasks"
	PermCreateTasks PermissionFlag = "createTasks"
	PermEditTasks   PermissionFlag = "editTasks"
	PermDeleteTasks PermissionFlag = "deleteTasks"
)

// Goals
const (
	PermViewGoals   PermissionFlag = "viewGoals"
	PermCreateGoals PermissionFlag = "createGoals"
	PermEditGoals   PermissionFlag = "editGoals"
	PermDeleteGoals PermissionFlag = "deleteGoals"
)

// Files
const (
	PermViewFiles   PermissionFlag = "viewFiles"
	PermUploadFiles PermissionFlag = "uploadFiles"
	PermEditFiles   PermissionFlag = "editFiles"
	PermDeleteFiles PermissionFlag = "deleteFiles"
)

// Calendar
const (
	PermViewCalendar PermissionFlag = "viewCalendar"
	PermCreateEvents PermissionFlag = "createEvents"
	PermEditEvents   PermissionFlag = "editEvents"
	PermDeleteEvents PermissionFlag = "deleteEvents"
)

// Channels
const (
	PermViewChannels   PermissionFlag = "viewChannels"
	PermCreateChannels PermissionFlag = "createChannels"
	PermManageChannels PermissionFlag = "manageChannels"
)

// Resources
const (
	PermViewResources   PermissionFlag = "viewResources"
	PermManageResources PermissionFlag = "manageResources"
)

// Analytics
const (
	PermViewAnalytics   PermissionFlag = "viewAnalytics"
	PermExportAnalytics PermissionFlag = "exportAnalytics"
)

// AllPermissionFlags returns every flag in the closed set.
func AllPermissionFlags() []PermissionFlag {
	return []PermissionFlag{
		PermViewTeam, PermManageTeam, PermManageTeamRoles, PermManageTeamMembers,
		PermViewTasks, PermCreateTasks, PermEditTasks, PermDeleteTasks,
		PermViewGoals, PermCreateGoals, PermEditGoals, PermDeleteGoals,
		PermViewFiles, PermUploadFiles, PermEditFiles, PermDeleteFiles,
		PermViewCalendar, PermCreateEvents, PermEditEvents, PermDeleteEvents,
		PermViewChannels, PermCreateChannels, PermManageChannels,
		PermViewResources, PermManageResources,
		PermViewAnalytics, PermExportAnalytics,
	}
}

// viewFlags are the flags that default to true when a role is created ad hoc.
// View access is intentionally permissive so a new role is usable immediately;
// every write/manage flag defaults to false.
var viewFlags = map[PermissionFlag]bool{
	PermViewTeam:      true,
	PermViewTasks:     true,
	PermViewGoals:     true,
	PermViewFiles:     true,
	PermViewCalendar:  true,
	PermViewChannels:  true,
	PermViewResources: true,
}

// privilegedFlags are the manage-level flags whose denials are worth an
// audit trail entry. View and plain write flags are too noisy to record.
var privilegedFlags = map[PermissionFlag]bool{
	PermManageTeam:        true,
	PermManageTeamRoles:   true,
	PermManageTeamMembers: true,
	PermManageChannels:    true,
	PermManageResources:   true,
}

// IsPrivileged reports whether a denial of f should be audited.
func (f PermissionFlag) IsPrivileged() bool {
	return privilegedFlags[f]
}

// IsValid reports whether f is a member of the closed permission set.
func (f PermissionFlag) IsValid() bool {
	for _, known := range AllPermissionFlags() {
		if f == known {
			return true
		}
	}
	return false
}

// PermissionSet maps each flag to whether the capability is granted.
// A missing flag is treated as denied.
type PermissionSet map[PermissionFlag]bool

// Has reports whether the flag is explicitly granted. Missing flags deny.
func (p PermissionSet) Has(flag PermissionFlag) bool {
	return p[flag]
}

// Clone returns a shallow copy of the set.
func (p PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge overlays the overrides onto the set in place and returns it.
func (p PermissionSet) Merge(overrides PermissionSet) PermissionSet {
	for k, v := range overrides {
		p[k] = v
	}
	return p
}

// BaselinePermissions returns the deny-by-default permission set used when a
// role is created ad hoc: every flag false except the view-level flags.
func BaselinePermissions() PermissionSet {
	set := make(PermissionSet, len(AllPermissionFlags()))
	for _, flag := range AllPermissionFlags() {
		set[flag] = viewFlags[flag]
	}
	return set
}

// FullPermissions returns a set with every flag granted. Stored on the admin
// role for display purposes only; the evaluator never consults the stored map
// for an admin role.
func FullPermissions() PermissionSet {
	set := make(PermissionSet, len(AllPermissionFlags()))
	for _, flag := range AllPermissionFlags() {
		set[flag] = true
	}
	return set
}

// Role is a named bundle of permission flags scoped to one team.
type Role struct {
	ID          int64         `json:"id"`
	TeamID      int64         `json:"team_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	IsAdmin     bool          `json:"is_admin"`
	IsDefault   bool          `json:"is_default"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// MemberStatus is the lifecycle state of a membership. The record is retained
// on removal (status inactive) so the invited/active/inactive history stays
// representable.
type MemberStatus string

const (
	StatusActive          MemberStatus = "active"
	StatusInactive        MemberStatus = "inactive"
	StatusInvited         MemberStatus = "invited"
	StatusPendingApproval MemberStatus = "pending_approval"
)

// IsValid reports whether s is a known membership status.
func (s MemberStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusInvited, StatusPendingApproval:
		return true
	}
	return false
}

// canTransitionTo encodes the membership state machine:
// invited/pending_approval -> active, active -> inactive, inactive -> active.
func (s MemberStatus) canTransitionTo(next MemberStatus) bool {
	switch s {
	case StatusInvited, StatusPendingApproval:
		return next == StatusActive
	case StatusActive:
		return next == StatusInactive
	case StatusInactive:
		return next == StatusActive
	}
	return false
}

// NotificationPrefs holds per-member notification preferences.
type NotificationPrefs struct {
	Email    bool `json:"email"`
	InApp    bool `json:"in_app"`
	Mentions bool `json:"mentions"`
	Digest   bool `json:"digest"`
}

// DefaultNotificationPrefs returns the preferences applied to a new membership.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{Email: true, InApp: true, Mentions: true}
}

// Membership links one principal to one team. Uniqueness of (team, principal)
// is the record's identity; the surrogate id exists for the wire surface.
type Membership struct {
	ID            int64             `json:"id"`
	TeamID        int64             `json:"team_id"`
	PrincipalID   int64             `json:"principal_id"`
	RoleID        int64             `json:"role_id"`
	DisplayName   string            `json:"display_name,omitempty"`
	Status        MemberStatus      `json:"status"`
	JoinedAt      time.Time         `json:"joined_at"`
	InvitedBy     *int64            `json:"invited_by,omitempty"`
	InviteToken   string            `json:"-"`
	InviteExpires *time.Time        `json:"-"`
	Notifications NotificationPrefs `json:"notifications"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ResourceKind identifies the type of a team-owned resource for access checks.
type ResourceKind string

const (
	ResourceTask    ResourceKind = "task"
	ResourceGoal    ResourceKind = "goal"
	ResourceFile    ResourceKind = "file"
	ResourceEvent   ResourceKind = "event"
	ResourceChannel ResourceKind = "channel"
	ResourceGeneric ResourceKind = "resource"
)

// ResourceAction is a generic action requested against a resource.
type ResourceAction string

const (
	ActionView   ResourceAction = "view"
	ActionCreate ResourceAction = "create"
	ActionEdit   ResourceAction = "edit"
	ActionDelete ResourceAction = "delete"
)

// RoleSeed describes one starter role created during team bootstrap. Seeds may
// be overridden by a YAML file at startup (see config.LoadRoleSeeds).
type RoleSeed struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Admin       bool            `yaml:"admin"`
	Default     bool            `yaml:"default"`
	Permissions map[string]bool `yaml:"permissions"`
}

// StarterRoles returns the fixed starter set created for every new team:
// Admin (bypasses the matrix), Member (the default role), and Guest.
func StarterRoles() []RoleSeed {
	member := BaselinePermissions()
	member.Merge(PermissionSet{
		PermCreateTasks: true, PermEditTasks: true,
		PermCreateGoals: true, PermEditGoals: true,
		PermUploadFiles: true, PermEditFiles: true,
		PermCreateEvents: true, PermEditEvents: true,
		PermCreateChannels: true,
	})

	return []RoleSeed{
		{
			Name:        "Admin",
			Description: "Full access to the team",
			Admin:       true,
			Permissions: flagMap(FullPermissions()),
		},
		{
			Name:        "Member",
			Description: "Standard collaborator",
			Default:     true,
			Permissions: flagMap(member),
		},
		{
			Name:        "Guest",
			Description: "Read-only access",
			Permissions: flagMap(BaselinePermissions()),
		},
	}
}

func flagMap(set PermissionSet) map[string]bool {
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[string(k)] = v
	}
	return out
}

// PermissionOverrides converts a string-keyed permission map into a
// PermissionSet, dropping unknown flags. Returns nil for an empty map so
// callers can distinguish "no overrides" from "override to deny".
func PermissionOverrides(m map[string]bool) PermissionSet {
	if len(m) == 0 {
		return nil
	}
	set := make(PermissionSet, len(m))
	for key, granted := range m {
		flag := PermissionFlag(key)
		if flag.IsValid() {
			set[flag] = granted
		}
	}
	return set
}

// SeedPermissions converts a seed's string-keyed map into a validated
// PermissionSet layered over the baseline. Unknown keys are dropped.
func (s RoleSeed) SeedPermissions() PermissionSet {
	set := BaselinePermissions()
	for key, granted := range s.Permissions {
		flag := PermissionFlag(key)
		if flag.IsValid() {
			set[flag] = granted
		}
	}
	return set
}
