// Package tools implements a process-wide, read-mostly map from tool name
// to invocable, with alias resolution, group membership, and enable/disable
// state.
package tools

import (
	"context"
	"sync"

	"github.com/frankawp/data-agent/internal/errkind"
)

// Group is one of the fixed tool categories.
type Group string

const (
	GroupSQL     Group = "sql"
	GroupPython  Group = "python"
	GroupML      Group = "ml"
	GroupGraph   Group = "graph"
	GroupDagster Group = "dagster"
)

// Invocable is a single tool's executable body: a polymorphic capability
// over a map of arguments.
type Invocable func(ctx context.Context, args map[string]any) (any, error)

// Spec describes one registered tool.
type Spec struct {
	Name     string
	Group    Group
	Fn       Invocable
	Timeout  bool // true if a non-default timeout is set
	Disabled bool
}

// Registry maps tool name -> invocable, with alias resolution, group
// membership, and enable/disable state. Writes are guarded by a mutex;
// reads take the same lock, so Get/GetGroup stay consistent with a
// concurrent ApplyConfig.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Spec
	aliases  map[string]string
	groups   map[Group][]string // tool names per group, insertion order
	disabled map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Spec),
		aliases:  make(map[string]string),
		groups:   make(map[Group][]string),
		disabled: make(map[string]struct{}),
	}
}

// Register adds a tool under name within group. Re-registering the same
// name replaces the invocable but preserves enable/disable state.
func (r *Registry) Register(name string, group Group, fn Invocable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.groups[group] = append(r.groups[group], name)
	}
	r.tools[name] = &Spec{Name: name, Group: group, Fn: fn}
}

// Alias registers alias as an alternate name for target. Alias resolution
// is consulted before the direct tool map on every Get.
func (r *Registry) Alias(alias, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = target
}

// Get resolves nameOrAlias to its invocable. Alias map is consulted first;
// if the resolved name is disabled, Get returns ok=false.
func (r *Registry) Get(nameOrAlias string) (Invocable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := nameOrAlias
	if target, ok := r.aliases[nameOrAlias]; ok {
		name = target
	}
	if _, disabled := r.disabled[name]; disabled {
		return nil, false
	}
	spec, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return spec.Fn, true
}

// GetGroup returns the enabled invocables registered under group, in
// registration order.
func (r *Registry) GetGroup(group Group) []Invocable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Invocable
	for _, name := range r.groups[group] {
		if _, disabled := r.disabled[name]; disabled {
			continue
		}
		out = append(out, r.tools[name].Fn)
	}
	return out
}

// GroupOf reports the group a registered tool name (not an alias) belongs
// to. Used to classify a tool call by group without the caller knowing
// about the registry's internal layout.
func (r *Registry) GroupOf(name string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return spec.Group, true
}

// Disable marks name as disabled; Get and GetGroup skip it until re-enabled.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = struct{}{}
}

// Enable clears name's disabled state.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

// IsDisabled reports whether name is currently disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, disabled := r.disabled[name]
	return disabled
}

// Config describes which builtin groups are enabled, per-tool overrides,
// extra aliases, and external modules to import.
type Config struct {
	// Builtin lists groups to enable wholesale. Groups not listed are
	// disabled wholesale before per-tool overrides are applied.
	Builtin []Group
	// Enable and Disable layer per-tool overrides on top of the group
	// wholesale pass.
	Enable  []string
	Disable []string
	// Aliases maps alias -> target tool name.
	Aliases map[string]string
	// External lists (module_path, [names]) pairs for dynamically loaded
	// tools. ModuleLoader resolves module_path to a set of named
	// constructors.
	External []ExternalModule
}

// ExternalModule names a module to load tools from, plus the specific
// tool names to pull out of it.
type ExternalModule struct {
	ModulePath string
	Names      []string
}

// ModuleLoader resolves a module path to its exported tool constructors.
// Applications register their external tool modules against a ModuleLoader
// and pass it to ApplyConfig.
type ModuleLoader interface {
	// Load returns the invocables exported by modulePath, keyed by name.
	Load(modulePath string) (map[string]Invocable, error)
}

// ApplyConfig enables/disables groups wholesale, then layers per-tool
// overrides, alias additions, and external-module imports. Missing
// external names log a warning via logf and never fail.
func (r *Registry) ApplyConfig(cfg Config, loader ModuleLoader, logf func(format string, args ...any)) {
	enabledGroups := make(map[Group]struct{}, len(cfg.Builtin))
	for _, g := range cfg.Builtin {
		enabledGroups[g] = struct{}{}
	}

	r.mu.Lock()
	for group, names := range r.groups {
		_, enabled := enabledGroups[group]
		for _, name := range names {
			if enabled {
				delete(r.disabled, name)
			} else {
				r.disabled[name] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	for _, name := range cfg.Enable {
		r.Enable(name)
	}
	for _, name := range cfg.Disable {
		r.Disable(name)
	}
	for alias, target := range cfg.Aliases {
		r.Alias(alias, target)
	}

	if loader == nil {
		return
	}
	for _, ext := range cfg.External {
		fns, err := loader.Load(ext.ModulePath)
		if err != nil {
			if logf != nil {
				logf("tools: load external module %q failed: %v", ext.ModulePath, err)
			}
			continue
		}
		for _, name := range ext.Names {
			fn, ok := fns[name]
			if !ok {
				if logf != nil {
					logf("tools: external module %q has no tool named %q", ext.ModulePath, name)
				}
				continue
			}
			r.Register(name, "", fn)
		}
	}
}

// ErrToolNotFound is returned by callers that wrap Get's ok=false into an
// error (e.g. the scheduler).
func ErrToolNotFound(name string) error {
	return errkind.Errorf(errkind.ToolNotFound, "tool not found: %s", name)
}
