// Package models defines the records shared by the gather store, the sync
// layer and the CLI.
//
// # Records
//
//   - Group:  a named set of members owning an ordered list of events
//   - Member: a (group, user, role) row from group_members
//   - Event:  a dated entry inside a group
//   - User:   a local account created at signup
//
// Identifiers for groups and events are assigned by the local store
// (SQLite auto-increment) and are only meaningful inside one instance.
// Events replicated from a peer are re-numbered by the receiving store.
//
// # Validation
//
// Each record exposes Validate, which reports the first missing or
// malformed field. Validation is shared by the store, the mutation codec
// and the spool importer so that all three reject the same inputs.
package models
