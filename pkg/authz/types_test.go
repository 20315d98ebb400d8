package authz

import (
	"testing"
)

func TestBaselinePermissionsCoversEveryFlag(t *testing.T) {
	set := BaselinePermissions()
	if len(set) != len(AllPermissionFlags()) {
		t.Fatalf("Expected %d flags, got %d", len(AllPermissionFlags()), len(set))
	}

	// View-level flags default to granted, everything else to denied.
	if !set.Has(PermViewTeam) || !set.Has(PermViewTasks) {
		t.Error("Expected view flags to default to granted")
	}
	if set.Has(PermManageTeam) || set.Has(PermDeleteTasks) || set.Has(PermExportAnalytics) {
		t.Error("Expected write/manage flags to default to denied")
	}
}

func TestFullPermissionsGrantsEverything(t *testing.T) {
	set := FullPermissions()
	for _, flag := range AllPermissionFlags() {
		if !set.Has(flag) {
			t.Errorf("Expected %s to be granted", flag)
		}
	}
}

func TestPermissionSetMissingFlagDenies(t *testing.T) {
	set := PermissionSet{PermViewTasks: true}
	if set.Has(PermDeleteTasks) {
		t.Error("Expected missing flag to deny")
	}
	if set.Has("unknownFlag") {
		t.Error("Expected unknown flag to deny")
	}
}

func TestPermissionSetMerge(t *testing.T) {
	set := BaselinePermissions()
	set.Merge(PermissionSet{PermDeleteTasks: true, PermViewTeam: false})

	if !set.Has(PermDeleteTasks) {
		t.Error("Expected merged grant to apply")
	}
	if set.Has(PermViewTeam) {
		t.Error("Expected merged deny to override the baseline grant")
	}
}

func TestPermissionOverrides(t *testing.T) {
	if PermissionOverrides(nil) != nil {
		t.Error("Expected nil for empty input")
	}
	if PermissionOverrides(map[string]bool{}) != nil {
		t.Error("Expected nil for empty map")
	}

	set := PermissionOverrides(map[string]bool{
		"deleteTasks": true,
		"notAFlag":    true,
	})
	if !set.Has(PermDeleteTasks) {
		t.Error("Expected valid override to apply")
	}
	if len(set) != 1 {
		t.Errorf("Expected unknown flags to be dropped, got %v", set)
	}
}

func TestPermissionFlagIsValid(t *testing.T) {
	if !PermViewTasks.IsValid() {
		t.Error("Expected viewTasks to be valid")
	}
	if PermissionFlag("viewEverything").IsValid() {
		t.Error("Expected unknown flag to be invalid")
	}
}

func TestMemberStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to MemberStatus
		allowed  bool
	}{
		{StatusInvited, StatusActive, true},
		{StatusPendingApproval, StatusActive, true},
		{StatusActive, StatusInactive, true},
		{StatusInactive, StatusActive, true},
		{StatusActive, StatusInvited, false},
		{StatusActive, StatusPendingApproval, false},
		{StatusInvited, StatusInactive, false},
		{StatusInactive, StatusInvited, false},
	}
	for _, tc := range cases {
		if got := tc.from.canTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("Transition %s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestStarterRoles(t *testing.T) {
	seeds := StarterRoles()
	if len(seeds) != 3 {
		t.Fatalf("Expected 3 starter roles, got %d", len(seeds))
	}

	var admins, defaults int
	for _, seed := range seeds {
		if seed.Admin {
			admins++
		}
		if seed.Default {
			defaults++
		}
	}
	if admins != 1 {
		t.Errorf("Expected exactly one admin seed, got %d", admins)
	}
	if defaults != 1 {
		t.Errorf("Expected exactly one default seed, got %d", defaults)
	}
}

func TestSeedPermissionsDropsUnknownKeys(t *testing.T) {
	seed := RoleSeed{
		Name: "Reviewer",
		Permissions: map[string]bool{
			"editTasks": true,
			"flyToMoon": true,
			"viewGoals": false,
		},
	}
	set := seed.SeedPermissions()

	if !set.Has(PermEditTasks) {
		t.Error("Expected editTasks grant from seed")
	}
	if set.Has("flyToMoon") {
		t.Error("Expected unknown key to be dropped")
	}
	if set.Has(PermViewGoals) {
		t.Error("Expected seed deny to override the baseline grant")
	}
	if !set.Has(PermViewTasks) {
		t.Error("Expected untouched baseline grant to survive")
	}
}
