// Package router aggregates the routes contributed by loaded modules
// into a single lookup table. Entries are keyed by "module:path" so two
// modules can declare the same path without colliding; the first
// registration under a key wins and later duplicates are silent no-ops.
package router

import (
	"context"
	"strings"
	"sync"

	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
)

// RouteDefinition describes one navigable route contributed by a module.
type RouteDefinition struct {
	// Path is the route pattern. Literal segments match
	// case-insensitively; a trailing "*" segment matches any suffix;
	// "{name}" segments match any single segment and capture its value.
	Path string `json:"path"`

	// Component references the front-end component rendering this route.
	Component string `json:"component"`

	// DisplayName is the human-readable route title.
	DisplayName string `json:"displayName"`

	// ShowInMenu marks routes surfaced in the shell navigation menu.
	ShowInMenu bool `json:"showInMenu"`

	// Params carries static parameters attached by the module.
	Params map[string]string `json:"params,omitempty"`

	// Module is the owning module name, set by the aggregator on ingest.
	Module string `json:"module,omitempty"`
}

// Match is the result of a successful route lookup.
type Match struct {
	Route RouteDefinition `json:"route"`
	// PathParams holds values captured by "{name}" segments.
	PathParams map[string]string `json:"pathParams,omitempty"`
}

// RouteSource exposes a module's contributed routes.
type RouteSource interface {
	Routes() []RouteDefinition
}

// SourceResolver resolves a loaded module's route source by name.
type SourceResolver func(moduleName string) (RouteSource, bool)

// Aggregator merges per-module route contributions into one table.
type Aggregator struct {
	mu     sync.RWMutex
	routes map[string]RouteDefinition
	order  []string

	observers []observerEntry
	nextObsID int64

	resolve     SourceResolver
	bus         *events.Bus
	log         *logging.Logger
	unsubscribe func()
}

type observerEntry struct {
	id int64
	fn func()
}

// New creates an aggregator. Call Initialize afterwards to attach it to
// the event channel; the two-step construction avoids a circular
// dependency between the aggregator and the loader at wiring time.
func New(resolve SourceResolver, bus *events.Bus, log *logging.Logger) *Aggregator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Aggregator{
		routes:  make(map[string]RouteDefinition),
		resolve: resolve,
		bus:     bus,
		log:     log,
	}
}

// Initialize subscribes to module-loaded notifications. It must be
// called exactly once after construction.
func (a *Aggregator) Initialize() {
	if a.bus == nil {
		return
	}
	a.unsubscribe = a.bus.Subscribe(events.EventModuleLoaded, a.onModuleLoaded)
}

// Close detaches the aggregator from the event channel so no handler
// runs after disposal.
func (a *Aggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Aggregator) onModuleLoaded(_ context.Context, ev events.Event) error {
	loaded, ok := ev.(events.ModuleLoaded)
	if !ok {
		return nil
	}
	a.Ingest(loaded.ModuleName)
	return nil
}

// Ingest pulls the named module's route list into the table. Observers
// are notified even when every route was already present.
func (a *Aggregator) Ingest(moduleName string) {
	if a.resolve == nil {
		return
	}
	source, ok := a.resolve(moduleName)
	if !ok {
		a.log.WithField("module", moduleName).Warn("route ingest for unknown module")
		return
	}

	a.mu.Lock()
	for _, route := range source.Routes() {
		route.Module = moduleName
		key := compositeKey(moduleName, route.Path)
		if _, exists := a.routes[key]; exists {
			continue
		}
		a.routes[key] = route
		a.order = append(a.order, key)
	}
	a.mu.Unlock()

	a.notify()
}

// Register inserts a single route under its composite key. It returns
// false when the key was already present (the insert is a no-op).
func (a *Aggregator) Register(moduleName string, route RouteDefinition) bool {
	route.Module = moduleName
	key := compositeKey(moduleName, route.Path)

	a.mu.Lock()
	if _, exists := a.routes[key]; exists {
		a.mu.Unlock()
		a.notify()
		return false
	}
	a.routes[key] = route
	a.order = append(a.order, key)
	a.mu.Unlock()

	a.notify()
	return true
}

// Remove deletes all routes owned by the named module and reports
// whether anything was removed.
func (a *Aggregator) Remove(moduleName string) bool {
	prefix := moduleName + ":"

	a.mu.Lock()
	removed := false
	kept := a.order[:0]
	for _, key := range a.order {
		if strings.HasPrefix(key, prefix) {
			delete(a.routes, key)
			removed = true
			continue
		}
		kept = append(kept, key)
	}
	a.order = kept
	a.mu.Unlock()

	if removed {
		a.notify()
	}
	return removed
}

// FindRoute returns the first route whose pattern matches path, trying
// exact match, then trailing-wildcard prefix match, then per-segment
// parameter match. It returns false when nothing matches.
func (a *Aggregator) FindRoute(path string) (Match, bool) {
	path = normalize(path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, key := range a.order {
		route := a.routes[key]
		if params, ok := matchPattern(normalize(route.Path), path); ok {
			return Match{Route: route, PathParams: params}, true
		}
	}
	return Match{}, false
}

// MenuRoutes returns the routes flagged for the navigation menu.
func (a *Aggregator) MenuRoutes() []RouteDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []RouteDefinition
	for _, key := range a.order {
		if route := a.routes[key]; route.ShowInMenu {
			out = append(out, route)
		}
	}
	return out
}

// Routes returns every registered route in registration order.
func (a *Aggregator) Routes() []RouteDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]RouteDefinition, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.routes[key])
	}
	return out
}

// Len returns the number of registered routes.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.routes)
}

// OnChange registers an observer invoked after every table change
// notification and returns a function removing it.
func (a *Aggregator) OnChange(fn func()) func() {
	a.mu.Lock()
	id := a.nextObsID
	a.nextObsID++
	a.observers = append(a.observers, observerEntry{id: id, fn: fn})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, o := range a.observers {
			if o.id == id {
				a.observers = append(a.observers[:i], a.observers[i+1:]...)
				return
			}
		}
	}
}

func (a *Aggregator) notify() {
	a.mu.RLock()
	observers := make([]observerEntry, len(a.observers))
	copy(observers, a.observers)
	a.mu.RUnlock()

	for _, o := range observers {
		o.fn()
	}
}

func compositeKey(moduleName, path string) string {
	return moduleName + ":" + path
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// matchPattern matches a normalized path against a normalized pattern
// and returns captured parameters.
func matchPattern(pattern, path string) (map[string]string, bool) {
	// Exact match.
	if strings.EqualFold(pattern, path) {
		return nil, true
	}

	// Trailing wildcard: prefix match against the text before the "*".
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			return nil, true
		}
		if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
			rest := path[len(prefix):]
			if rest == "" || strings.HasPrefix(rest, "/") {
				return nil, true
			}
		}
		return nil, false
	}

	// Parameter segments: counts must match, literals compare
	// case-insensitively, "{name}" captures anything.
	if !strings.Contains(pattern, "{") {
		return nil, false
	}
	patternSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	if len(patternSegs) != len(pathSegs) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:len(seg)-1]] = pathSegs[i]
			continue
		}
		if !strings.EqualFold(seg, pathSegs[i]) {
			return nil, false
		}
	}
	return params, true
}
