package registry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
)

// AvailabilityObserver is invoked after every probe, typically a metrics
// hook.
type AvailabilityObserver func(module string, available bool)

// HealthChecker periodically probes the deployed URLs of loaded remote
// modules. A probe that fails after having succeeded raises a
// ModuleError event so subscribers can react to the outage.
type HealthChecker struct {
	loader   *Loader
	bus      *events.Bus
	log      *logging.Logger
	client   *http.Client
	cron     *cron.Cron
	observer AvailabilityObserver
	schedule string

	mu    sync.Mutex
	state map[string]bool
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithHealthSchedule overrides the probe schedule (cron expression).
func WithHealthSchedule(spec string) HealthOption {
	return func(h *HealthChecker) { h.schedule = spec }
}

// WithHealthClient overrides the probing HTTP client.
func WithHealthClient(client *http.Client) HealthOption {
	return func(h *HealthChecker) { h.client = client }
}

// WithAvailabilityObserver sets an availability observer.
func WithAvailabilityObserver(o AvailabilityObserver) HealthOption {
	return func(h *HealthChecker) { h.observer = o }
}

// NewHealthChecker creates a checker over the loader's modules.
func NewHealthChecker(loader *Loader, bus *events.Bus, log *logging.Logger, opts ...HealthOption) *HealthChecker {
	if log == nil {
		log = logging.NewNop()
	}
	h := &HealthChecker{
		loader:   loader,
		bus:      bus,
		log:      log,
		client:   &http.Client{Timeout: 5 * time.Second},
		schedule: "@every 30s",
		state:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start schedules the periodic probe. It returns an error when the
// schedule expression is invalid.
func (h *HealthChecker) Start() error {
	h.cron = cron.New()
	if _, err := h.cron.AddFunc(h.schedule, h.CheckAll); err != nil {
		return err
	}
	h.cron.Start()
	h.log.WithField("schedule", h.schedule).Info("remote health checker started")
	return nil
}

// Stop halts the schedule and waits for an in-flight probe to finish.
func (h *HealthChecker) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// CheckAll probes every loaded remote module once.
func (h *HealthChecker) CheckAll() {
	for _, name := range h.loader.LoadedModules() {
		mod, ok := h.loader.Get(name)
		if !ok {
			continue
		}
		remote, ok := mod.(*RemoteModule)
		if !ok {
			continue
		}
		h.probe(name, remote.RemoteURL())
	}
}

func (h *HealthChecker) probe(name, url string) {
	available := h.reachable(url)

	h.mu.Lock()
	previous, seen := h.state[name]
	h.state[name] = available
	h.mu.Unlock()

	if h.observer != nil {
		h.observer(name, available)
	}
	if available || (seen && !previous) {
		return
	}

	h.log.WithFields(map[string]interface{}{
		"module": name,
		"url":    url,
	}).Warn("remote module unreachable")
	if h.bus != nil {
		h.bus.Publish(events.ModuleError{
			ModuleName: name,
			Error:      "remote module unreachable: " + url,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func (h *HealthChecker) reachable(url string) bool {
	timeout := h.client.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimRight(url, "/")+"/", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
