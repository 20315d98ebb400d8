// Package authz provides team-scoped, role-based authorization for Huddle.
//
// # Overview
//
// Every team owns a set of roles; every role is a named bundle of boolean
// permission flags drawn from a closed, application-versioned set. A
// membership links one principal to one team through exactly one role, and
// the effective permissions of a principal are exactly the flags of that
// role. There is no cross-team inheritance and no per-principal overrides.
//
// # Components
//
//   1. Store: persistence for roles, memberships, the denormalized
//      user_teams list, and resource-to-team resolution.
//   2. Evaluator: read-only, fail-closed permission checks. Admin roles
//      bypass the flag matrix entirely.
//   3. RoleService: role lifecycle with the structural invariants (one
//      admin role, one default role, guarded deletion).
//   4. MemberService: membership lifecycle including invitations, the
//      invited/pending/active/inactive state machine, and the last-admin
//      guard.
//   5. Handlers: the HTTP surface, routed with gorilla/mux and gated by
//      PermissionMiddleware.
//
// # Invariants
//
// Each team has exactly one admin role and exactly one default role, both
// enforced by partial unique indexes as well as the services. The admin role
// and the default role cannot be deleted, a role with active holders cannot
// be deleted, and the last active holder of the admin role cannot be removed
// or deactivated. Membership records are never hard-deleted; removal flips
// the status to inactive so the history stays representable.
//
// # Evaluation semantics
//
// Permission checks deny unless an active membership resolves to a role that
// grants the flag. Missing flags, unknown flags, non-active memberships,
// dangling role references, and store errors all evaluate to deny.
package authz
