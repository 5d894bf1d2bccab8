// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package ccalgos

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a new Controller instance. A Constructor is called
// once per connection; the returned Controller must not be shared
// between connections.
type Constructor func() (Controller, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a named Constructor to the process-wide registry, so a
// transport or harness can select a controller by configuration string
// (e.g. "ledbat", "siad", "lola") rather than a compiled-in type
// reference. Registering a name that's already registered is an error.
func Register(name string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("ccalgos: empty controller name")
	}
	if ctor == nil {
		return fmt.Errorf("ccalgos: nil constructor for %q", name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("ccalgos: controller %q already registered", name)
	}
	registry[name] = ctor
	return nil
}

// Deregister removes a named Constructor from the registry. Removing a
// name that was never registered is an error.
func Deregister(name string) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; !ok {
		return fmt.Errorf("ccalgos: controller %q not registered", name)
	}
	delete(registry, name)
	return nil
}

// New constructs a new Controller for the named, registered algorithm.
// Looking up a name that was never registered is an error.
func New(name string) (Controller, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ccalgos: unknown controller %q", name)
	}
	return ctor()
}

// Names returns the sorted names of all currently registered
// controllers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
