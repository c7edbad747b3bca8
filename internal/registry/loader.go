package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/errors"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
)

// LoadObserver is invoked after every load attempt, typically a metrics
// hook.
type LoadObserver func(module, mode string, ok bool, duration time.Duration)

// Loader resolves module names to running instances. Loads of the same
// module are serialized by a per-name gate, held across the entire
// activation including its suspend points, so a module can never be
// activated twice concurrently; loads of distinct modules proceed in
// parallel.
type Loader struct {
	registry  *Registry
	bus       *events.Bus
	log       *logging.Logger
	container *container.Container
	manifests *ManifestFetcher
	observer  LoadObserver

	mu     sync.Mutex
	loaded map[string]Module
	gates  map[string]*sync.Mutex
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithManifestFetcher enables remote manifest discovery before a proxy
// fallback is constructed.
func WithManifestFetcher(f *ManifestFetcher) LoaderOption {
	return func(l *Loader) { l.manifests = f }
}

// WithLoadObserver sets a load observer.
func WithLoadObserver(o LoadObserver) LoaderOption {
	return func(l *Loader) { l.observer = o }
}

// NewLoader creates a loader over the given registry.
func NewLoader(reg *Registry, bus *events.Bus, c *container.Container, log *logging.Logger, opts ...LoaderOption) *Loader {
	if log == nil {
		log = logging.NewNop()
	}
	l := &Loader{
		registry:  reg,
		bus:       bus,
		log:       log,
		container: c,
		loaded:    make(map[string]Module),
		gates:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves the named module to a running instance. Failures are
// reported through the result and a ModuleError event; Load never
// panics or returns an error to the caller.
func (l *Loader) Load(ctx context.Context, name string) LoadResult {
	start := time.Now()

	gate := l.gate(name)
	gate.Lock()
	defer gate.Unlock()

	// Idempotent fast path: a second load of the same name returns the
	// cached handle without re-running activation.
	l.mu.Lock()
	if mod, ok := l.loaded[name]; ok {
		l.mu.Unlock()
		return LoadResult{OK: true, Module: mod, Duration: time.Since(start)}
	}
	l.mu.Unlock()

	meta, ok := l.registry.Lookup(name)
	if !ok {
		return l.fail(name, "lookup", start, errors.NotFound("module", name))
	}

	mod, mode, err := l.activate(ctx, meta)
	if err != nil {
		return l.fail(name, mode, start, err)
	}

	if cerr := l.configure(mod); cerr != nil {
		return l.fail(name, mode, start, errors.ActivationFailed(name, cerr))
	}

	loadedAt := time.Now().UTC()
	l.mu.Lock()
	l.loaded[name] = mod
	l.mu.Unlock()
	l.registry.markLoaded(name, loadedAt)

	l.log.WithFields(map[string]interface{}{
		"module": name,
		"mode":   mode,
	}).Info("module loaded")
	if l.bus != nil {
		l.bus.Publish(events.ModuleLoaded{ModuleName: name, LoadedAt: loadedAt})
	}
	l.observe(name, mode, true, time.Since(start))

	return LoadResult{OK: true, Module: mod, Duration: time.Since(start)}
}

// activate tries local factory activation first and falls back to a
// remote proxy when no factory serves the module's assembly identifier.
func (l *Loader) activate(ctx context.Context, meta Metadata) (mod Module, mode string, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod = nil
			err = errors.ActivationFailed(meta.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	if factory, ok := l.registry.Factory(meta.Assembly); ok {
		mode = "local"
		mod, err = factory(meta)
		if err != nil {
			return nil, mode, errors.ActivationFailed(meta.Name, err)
		}
		if mod == nil {
			return nil, mode, errors.ActivationFailed(meta.Name, fmt.Errorf("factory returned no module"))
		}
		return mod, mode, nil
	}

	mode = "remote"
	if meta.RemoteURL == "" {
		return nil, mode, errors.ActivationFailed(meta.Name, fmt.Errorf("no factory for assembly %q and no remote URL", meta.Assembly))
	}

	remote := NewRemoteModule(meta)
	if l.manifests != nil {
		if manifest, merr := l.manifests.Fetch(ctx, meta.RemoteURL); merr != nil {
			l.log.WithError(merr).WithField("module", meta.Name).Debug("remote manifest unavailable; using wildcard proxy")
		} else {
			remote.ApplyManifest(manifest)
		}
	}
	return remote, mode, nil
}

// configure runs the module's service registration, converting panics
// into errors.
func (l *Loader) configure(mod Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("configure services panic: %v", r)
		}
	}()
	return mod.ConfigureServices(l.container)
}

func (l *Loader) fail(name, mode string, start time.Time, err error) LoadResult {
	l.log.WithError(err).WithField("module", name).Warn("module load failed")
	if l.bus != nil {
		l.bus.Publish(events.ModuleError{
			ModuleName: name,
			Error:      err.Error(),
			OccurredAt: time.Now().UTC(),
		})
	}
	l.observe(name, mode, false, time.Since(start))
	return LoadResult{Err: err.Error(), Duration: time.Since(start)}
}

// PreloadAll loads every registry entry concurrently and aggregates the
// outcomes. It never fails as a whole.
func (l *Loader) PreloadAll(ctx context.Context) PreloadSummary {
	names := l.registry.Names()

	results := make([]LoadResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = l.Load(ctx, name)
		}(i, name)
	}
	wg.Wait()

	summary := PreloadSummary{Failures: make(map[string]string)}
	for i, res := range results {
		if res.OK {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		summary.Failures[names[i]] = res.Err
	}
	return summary
}

// Unload removes the named module's handle and resets its metadata
// flags. It reports whether anything was removed. Unload deliberately
// emits no lifecycle event.
func (l *Loader) Unload(name string) bool {
	gate := l.gate(name)
	gate.Lock()
	defer gate.Unlock()

	l.mu.Lock()
	_, ok := l.loaded[name]
	if ok {
		delete(l.loaded, name)
	}
	l.mu.Unlock()

	if ok {
		l.registry.markUnloaded(name)
		l.log.WithField("module", name).Info("module unloaded")
	}
	return ok
}

// Get returns the loaded module handle for name.
func (l *Loader) Get(name string) (Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mod, ok := l.loaded[name]
	return mod, ok
}

// LoadedModules returns the names of currently loaded modules.
func (l *Loader) LoadedModules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		out = append(out, name)
	}
	return out
}

// gate returns the per-name load gate, creating it on first use.
func (l *Loader) gate(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[name]
	if !ok {
		g = &sync.Mutex{}
		l.gates[name] = g
	}
	return g
}

func (l *Loader) observe(module, mode string, ok bool, d time.Duration) {
	if l.observer != nil {
		l.observer(module, mode, ok, d)
	}
}
