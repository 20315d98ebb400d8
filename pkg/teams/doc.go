// Package teams manages the team lifecycle: creation with the authorization
// bootstrap (starter roles plus the creator's admin membership, all in one
// transaction), slug-addressable lookup, the caller's team listing off the
// denormalized user_teams table, partial updates, and soft deletion.
//
// Authorization semantics live in pkg/authz; this package owns only the team
// entity itself and delegates the role/membership bootstrap to
// authz.BootstrapTeam so the two cannot diverge.
package teams
