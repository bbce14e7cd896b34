// Package project owns the persisted set of trilat projects.
//
// A Store keeps one versioned StorageDocument (all projects plus the active
// project pointer) and a separate AppSettings record in a storage.Backend.
// Every write is checked against a project-count limit and a serialized-size
// quota before it reaches the backend; a rejected write leaves persisted state
// untouched.
//
// Documents written by older releases are upgraded on read through a registry
// of forward-only migrations (see migrate.go) and the upgraded form is written
// back before Read returns. A document that cannot be parsed is replaced by a
// fresh default document and the loss is logged at error level.
//
// Callers always receive deep copies; mutating a returned Project never changes
// the store.
package project
