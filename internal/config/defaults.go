package config

import "time"

// Default configuration values.
const (
	DefaultCatalogPath     = "catalog.db"
	DefaultOutput          = "table"
	DefaultConcurrency     = 4
	DefaultPullAttempts    = 3
	DefaultPullBackoff     = time.Second
	DefaultConflictRetries = 3
)
