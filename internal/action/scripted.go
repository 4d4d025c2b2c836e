// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import (
	"sync"

	"greywall.dev/jaild/internal/errors"
)

// Factory constructs a ScriptedAction given its jail-supplied
// key/value options (the `action <jailname> { ... }` block for a
// registered action).
type Factory func(name string, opts map[string]string) (Action, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs factory under kind, for use in a jail's `action`
// blocks as `action "myjail" "kind" { ... }`. There is no dynamic
// scripting runtime here — a "scripted" action is an in-process Go
// type implementing Action, registered by name at init time.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New constructs a registered scripted action by kind.
func New(kind, name string, opts map[string]string) (Action, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "no scripted action registered for kind %q", kind)
	}
	return factory(name, opts)
}

// Kinds lists every registered scripted action kind, for `action status`.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
