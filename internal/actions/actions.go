// Package actions is the registry of named custom action tables.
//
// A device profile may only name built-in register actions unless the
// simulator is started with a custom action table. Tables are registered by
// name at init time and selected with the --custom-actions flag.
package actions

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-modsim/internal/datastore"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

// ErrUnknownTable is returned by Lookup for an unregistered table name.
var ErrUnknownTable = fmt.Errorf("%w: unknown custom action table", setup.ErrConfig)

var (
	mu     sync.RWMutex
	tables = map[string]datastore.ActionTable{}
)

// Register adds a named table. Registering a name twice replaces the table.
func Register(name string, table datastore.ActionTable) {
	mu.Lock()
	defer mu.Unlock()
	tables[name] = maps.Clone(table)
}

// Lookup returns the named table. An empty name returns a nil table.
func Lookup(name string) (datastore.ActionTable, error) {
	if name == "" {
		return nil, nil
	}
	mu.RLock()
	defer mu.RUnlock()
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTable, name, slices.Sorted(maps.Keys(tables)))
	}
	return maps.Clone(t), nil
}

// Names returns the registered table names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(tables))
}
