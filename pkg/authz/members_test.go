package authz

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/huddlehq/huddle/pkg/audit"
)

func newMemberService(t *testing.T) (*MemberService, *Store, *sql.DB) {
	t.Helper()
	store, db := newTestStore(t)
	return NewMemberService(store, nil, nil), store, db
}

func TestAddMember(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, _ := setupTeam(t, db)
	member := roleByName(t, store, teamID, "Member")

	user := createTestUser(t, db, "newbie@example.com")
	m, err := svc.AddMember(context.Background(), teamID, user, member.ID, "Newbie")
	if err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("Expected active membership, got %s", m.Status)
	}
	if m.DisplayName != "Newbie" {
		t.Errorf("Expected display name Newbie, got %q", m.DisplayName)
	}
	if !m.Notifications.Email || !m.Notifications.InApp {
		t.Errorf("Expected default notification prefs, got %+v", m.Notifications)
	}

	teams, err := store.ListPrincipalTeams(context.Background(), user)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(teams) != 1 || teams[0] != teamID {
		t.Errorf("Expected team list [%d], got %v", teamID, teams)
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, _ := setupTeam(t, db)
	member := roleByName(t, store, teamID, "Member")
	guest := roleByName(t, store, teamID, "Guest")

	user := createTestUser(t, db, "newbie@example.com")
	first, err := svc.AddMember(context.Background(), teamID, user, member.ID, "")
	if err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	// Adding an active member again returns the existing record unchanged,
	// even with a different role.
	second, err := svc.AddMember(context.Background(), teamID, user, guest.ID, "")
	if err != nil {
		t.Fatalf("Expected idempotent add, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected the same membership, got %d and %d", first.ID, second.ID)
	}
	if second.RoleID != member.ID {
		t.Errorf("Expected role to stay %d, got %d", member.ID, second.RoleID)
	}
}

func TestAddMemberReactivatesInactive(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	member := roleByName(t, store, teamID, "Member")
	guest := roleByName(t, store, teamID, "Guest")

	user := createTestUser(t, db, "boomerang@example.com")
	if _, err := svc.AddMember(context.Background(), teamID, user, member.ID, ""); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	if err := svc.RemoveMember(context.Background(), teamID, user, creatorID); err != nil {
		t.Fatalf("Failed to remove member: %v", err)
	}

	m, err := svc.AddMember(context.Background(), teamID, user, guest.ID, "")
	if err != nil {
		t.Fatalf("Failed to re-add member: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("Expected reactivated membership, got %s", m.Status)
	}
	if m.RoleID != guest.ID {
		t.Errorf("Expected reactivation to take the new role %d, got %d", guest.ID, m.RoleID)
	}

	teams, err := store.ListPrincipalTeams(context.Background(), user)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(teams) != 1 {
		t.Errorf("Expected team list restored, got %v", teams)
	}
}

func TestAddMemberRejectsCrossTeamRole(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, _ := setupTeam(t, db)

	otherOwner := createTestUser(t, db, "other-owner@example.com")
	otherTeam := createTestTeam(t, db, "marketing", otherOwner)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := BootstrapTeam(context.Background(), tx, otherTeam, otherOwner, nil); err != nil {
		t.Fatalf("Failed to bootstrap second team: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	foreignRole := roleByName(t, store, otherTeam, "Member")

	user := createTestUser(t, db, "newbie@example.com")
	_, err = svc.AddMember(context.Background(), teamID, user, foreignRole.ID, "")
	if !IsInvalidReference(err) {
		t.Errorf("Expected InvalidReferenceError, got %v", err)
	}
}

func TestInviteMember(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	createTestUser(t, db, "invitee@example.com")
	m, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite member: %v", err)
	}
	if m.Status != StatusInvited {
		t.Errorf("Expected invited status, got %s", m.Status)
	}
	if m.InviteToken == "" {
		t.Error("Expected an invite token")
	}
	if m.InviteExpires == nil || !m.InviteExpires.After(time.Now()) {
		t.Errorf("Expected a future expiry, got %v", m.InviteExpires)
	}
	if m.InvitedBy == nil || *m.InvitedBy != creatorID {
		t.Errorf("Expected inviter %d, got %v", creatorID, m.InvitedBy)
	}

	// Re-inviting returns the pending invitation unchanged.
	again, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Expected idempotent re-invite, got %v", err)
	}
	if again.InviteToken != m.InviteToken {
		t.Error("Expected the existing token to be preserved")
	}
}

func TestInviteMemberErrors(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	_, err := svc.InviteMember(context.Background(), teamID, creatorID, "ghost@example.com", guest.ID)
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("Expected ErrPrincipalNotFound, got %v", err)
	}

	// Inviting an active member is an invariant violation.
	user := createTestUser(t, db, "active@example.com")
	if _, err := svc.AddMember(context.Background(), teamID, user, guest.ID, ""); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	_, err = svc.InviteMember(context.Background(), teamID, creatorID, "active@example.com", guest.ID)
	if !IsInvariantViolation(err) {
		t.Errorf("Expected invariant violation, got %v", err)
	}
}

func TestAcceptInvitation(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")
	defaultRole := roleByName(t, store, teamID, "Member")

	invitee := createTestUser(t, db, "invitee@example.com")
	invitation, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	m, err := svc.AcceptInvitation(context.Background(), invitation.InviteToken, invitee)
	if err != nil {
		t.Fatalf("Failed to accept invitation: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("Expected active membership, got %s", m.Status)
	}
	// Acceptance lands on the team's current default role, not the role
	// recorded at invite time.
	if m.RoleID != defaultRole.ID {
		t.Errorf("Expected default role %d, got %d", defaultRole.ID, m.RoleID)
	}
	if m.InviteToken != "" {
		t.Error("Expected token to be cleared on acceptance")
	}

	teams, err := store.ListPrincipalTeams(context.Background(), invitee)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(teams) != 1 || teams[0] != teamID {
		t.Errorf("Expected team list [%d], got %v", teamID, teams)
	}

	// The token is single-use.
	_, err = svc.AcceptInvitation(context.Background(), invitation.InviteToken, invitee)
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("Expected spent token to resolve nothing, got %v", err)
	}
}

func TestAcceptInvitationWrongPrincipal(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	createTestUser(t, db, "invitee@example.com")
	other := createTestUser(t, db, "other@example.com")
	invitation, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	_, err = svc.AcceptInvitation(context.Background(), invitation.InviteToken, other)
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("Expected not-found for the wrong principal, got %v", err)
	}
}

func TestAcceptInvitationExpired(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	invitee := createTestUser(t, db, "invitee@example.com")
	invitation, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := db.Exec(`UPDATE team_members SET invite_expires_at = $1 WHERE id = $2`, past, invitation.ID); err != nil {
		t.Fatalf("Failed to backdate invitation: %v", err)
	}

	_, err = svc.AcceptInvitation(context.Background(), invitation.InviteToken, invitee)
	if !errors.Is(err, ErrInvitationExpired) {
		t.Errorf("Expected ErrInvitationExpired, got %v", err)
	}
}

func TestAcceptInvitationAudited(t *testing.T) {
	rec := &recordingAudit{}
	store, db := newTestStore(t)
	svc := NewMemberService(store, nil, rec)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	invitee := createTestUser(t, db, "invitee@example.com")
	invitation, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}
	if _, err := svc.AcceptInvitation(context.Background(), invitation.InviteToken, invitee); err != nil {
		t.Fatalf("Failed to accept: %v", err)
	}

	event := rec.find(audit.EventMemberAccept)
	if event == nil {
		t.Fatal("Expected a member-accept audit event")
	}
	if event.Status != audit.StatusSuccess {
		t.Errorf("Expected success status, got %s", event.Status)
	}
	if event.ActorID != invitee || event.TeamID != teamID {
		t.Errorf("Unexpected actor/team in event: %+v", event)
	}
}

func TestAcceptInvitationExpiredAudited(t *testing.T) {
	rec := &recordingAudit{}
	store, db := newTestStore(t)
	svc := NewMemberService(store, nil, rec)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	invitee := createTestUser(t, db, "invitee@example.com")
	invitation, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := db.Exec(`UPDATE team_members SET invite_expires_at = $1 WHERE id = $2`, past, invitation.ID); err != nil {
		t.Fatalf("Failed to backdate invitation: %v", err)
	}

	if _, err := svc.AcceptInvitation(context.Background(), invitation.InviteToken, invitee); !errors.Is(err, ErrInvitationExpired) {
		t.Fatalf("Expected ErrInvitationExpired, got %v", err)
	}

	event := rec.find(audit.EventMemberAccept)
	if event == nil {
		t.Fatal("Expected a member-accept audit event")
	}
	if event.Status != audit.StatusFailure {
		t.Errorf("Expected failure status, got %s", event.Status)
	}
}

func TestRemoveMemberLastAdminGuard(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)

	err := svc.RemoveMember(context.Background(), teamID, creatorID, creatorID)
	if !IsInvariantViolation(err) {
		t.Errorf("Expected last-admin removal to be rejected, got %v", err)
	}

	// With a second admin the removal goes through.
	admin := roleByName(t, store, teamID, "Admin")
	second := createTestUser(t, db, "second-admin@example.com")
	if _, err := svc.AddMember(context.Background(), teamID, second, admin.ID, ""); err != nil {
		t.Fatalf("Failed to add second admin: %v", err)
	}
	if err := svc.RemoveMember(context.Background(), teamID, creatorID, second); err != nil {
		t.Fatalf("Expected removal to succeed, got %v", err)
	}

	m, err := store.GetMembership(context.Background(), teamID, creatorID)
	if err != nil {
		t.Fatalf("Failed to reload membership: %v", err)
	}
	if m.Status != StatusInactive {
		t.Errorf("Expected soft-deleted membership, got %s", m.Status)
	}

	teams, err := store.ListPrincipalTeams(context.Background(), creatorID)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(teams) != 0 {
		t.Errorf("Expected team removed from the denormalized list, got %v", teams)
	}

	// The removal left one active admin; removing them too is rejected.
	if err := svc.RemoveMember(context.Background(), teamID, second, second); !IsInvariantViolation(err) {
		t.Errorf("Expected removal of the remaining admin to be rejected, got %v", err)
	}
}

func TestRemoveMemberNotFound(t *testing.T) {
	svc, _, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)

	err := svc.RemoveMember(context.Background(), teamID, 9999, creatorID)
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("Expected ErrMembershipNotFound, got %v", err)
	}
}

func TestUpdateMemberRoleChange(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	member := roleByName(t, store, teamID, "Member")
	guest := roleByName(t, store, teamID, "Guest")

	user := createTestUser(t, db, "promotee@example.com")
	if _, err := svc.AddMember(context.Background(), teamID, user, guest.ID, ""); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	m, err := svc.UpdateMember(context.Background(), teamID, user, UpdateMemberRequest{
		RoleID:  &member.ID,
		ActorID: creatorID,
	})
	if err != nil {
		t.Fatalf("Failed to update member: %v", err)
	}
	if m.RoleID != member.ID {
		t.Errorf("Expected role %d, got %d", member.ID, m.RoleID)
	}
}

func TestUpdateMemberInvalidTransitions(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	invitee := createTestUser(t, db, "invitee@example.com")
	if _, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID); err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	// invited -> inactive is not a legal transition.
	inactive := StatusInactive
	_, err := svc.UpdateMember(context.Background(), teamID, invitee, UpdateMemberRequest{
		Status:  &inactive,
		ActorID: creatorID,
	})
	if !IsInvariantViolation(err) {
		t.Errorf("Expected invariant violation, got %v", err)
	}

	bogus := MemberStatus("banished")
	_, err = svc.UpdateMember(context.Background(), teamID, invitee, UpdateMemberRequest{
		Status:  &bogus,
		ActorID: creatorID,
	})
	if err == nil {
		t.Error("Expected unknown status to be rejected")
	}
}

func TestUpdateMemberActivation(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	invitee := createTestUser(t, db, "invitee@example.com")
	if _, err := svc.InviteMember(context.Background(), teamID, creatorID, "invitee@example.com", guest.ID); err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	// Manual activation by an admin clears the invitation state.
	active := StatusActive
	m, err := svc.UpdateMember(context.Background(), teamID, invitee, UpdateMemberRequest{
		Status:  &active,
		ActorID: creatorID,
	})
	if err != nil {
		t.Fatalf("Failed to activate member: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("Expected active status, got %s", m.Status)
	}
	if m.InviteToken != "" || m.InviteExpires != nil {
		t.Error("Expected invitation state to be cleared")
	}

	teams, err := store.ListPrincipalTeams(context.Background(), invitee)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(teams) != 1 {
		t.Errorf("Expected denormalized list updated, got %v", teams)
	}
}

func TestUpdateMemberDeactivationGuardsLastAdmin(t *testing.T) {
	svc, _, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)

	inactive := StatusInactive
	_, err := svc.UpdateMember(context.Background(), teamID, creatorID, UpdateMemberRequest{
		Status:  &inactive,
		ActorID: creatorID,
	})
	if !IsInvariantViolation(err) {
		t.Errorf("Expected last-admin guard on status update, got %v", err)
	}
}

func TestExpireStaleInvitations(t *testing.T) {
	svc, store, db := newMemberService(t)
	teamID, creatorID := setupTeam(t, db)
	guest := roleByName(t, store, teamID, "Guest")

	createTestUser(t, db, "stale@example.com")
	createTestUser(t, db, "fresh@example.com")
	stale, err := svc.InviteMember(context.Background(), teamID, creatorID, "stale@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}
	fresh, err := svc.InviteMember(context.Background(), teamID, creatorID, "fresh@example.com", guest.ID)
	if err != nil {
		t.Fatalf("Failed to invite: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := db.Exec(`UPDATE team_members SET invite_expires_at = $1 WHERE id = $2`, past, stale.ID); err != nil {
		t.Fatalf("Failed to backdate invitation: %v", err)
	}

	expired, err := svc.ExpireStaleInvitations(context.Background())
	if err != nil {
		t.Fatalf("Failed to expire invitations: %v", err)
	}
	if expired != 1 {
		t.Errorf("Expected 1 expired invitation, got %d", expired)
	}

	m, err := store.GetMembership(context.Background(), teamID, stale.PrincipalID)
	if err != nil {
		t.Fatalf("Failed to reload stale membership: %v", err)
	}
	if m.Status != StatusInactive || m.InviteToken != "" {
		t.Errorf("Expected expired invitation to be deactivated, got %+v", m)
	}

	m, err = store.GetMembership(context.Background(), teamID, fresh.PrincipalID)
	if err != nil {
		t.Fatalf("Failed to reload fresh membership: %v", err)
	}
	if m.Status != StatusInvited {
		t.Errorf("Expected fresh invitation untouched, got %s", m.Status)
	}
}
