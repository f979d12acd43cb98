// Package snapshot validates candidate metadata trees and mints catalog
// entity identities.
package snapshot

import "github.com/google/uuid"

// NewEntityID mints the identity for an entity on its first observation.
//
// Identity stability across pulls comes from matching, not from the value:
// the diff engine matches candidates to live rows by source-provided stable
// key first, qualified path second, and carries the matched row's existing ID
// forward. The ID itself must be unique per row — retired rows are retained
// forever, so an entity re-created at a path where a retired incarnation
// exists is a distinct entity with a distinct identity.
func NewEntityID() string {
	return uuid.New().String()
}
