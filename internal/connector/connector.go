// Package connector pulls candidate metadata snapshots from live database
// sources. Each dialect registers a Connector; a Pull opens a connection,
// introspects the source's structure into the normalized tree, and closes.
// Connectors hold no state between pulls.
package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/catsync/pkg/core"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]core.Connector)
)

// Register makes a connector available under its dialect tag.
// Registering the same dialect twice panics, like database/sql drivers.
func Register(c core.Connector) {
	registryMu.Lock()
	defer registryMu.Unlock()

	dialect := c.Dialect()
	if _, dup := registry[dialect]; dup {
		panic(fmt.Sprintf("connector: Register called twice for dialect %q", dialect))
	}
	registry[dialect] = c
}

// Get returns the connector registered for a dialect.
func Get(dialect string) (core.Connector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := registry[dialect]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (registered: %v)", dialect, dialectsLocked())
	}
	return c, nil
}

// Dialects returns all registered dialect tags, sorted.
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return dialectsLocked()
}

func dialectsLocked() []string {
	out := make([]string, 0, len(registry))
	for d := range registry {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
