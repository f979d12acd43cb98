// Package core defines the shared language of the CatSync system.
//
// This package contains:
//   - The normalized metadata entity model (Snapshot, Database, Schema, Table, Column)
//   - Change-set and live-view types exchanged between the diff engine and the store
//   - The error taxonomy for sync cycles
//   - Service interfaces (Store, Connector)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
