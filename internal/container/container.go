// Package container provides the service context handed to each module
// during activation. Modules obtain shared infrastructure (event channel,
// authentication state, key-value store, HTTP client) from the container
// and may register their own named services for other modules to resolve.
// The container's lifetime is scoped to the application session; there is
// no process-global accessor.
package container

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/microshell/shell_host/internal/authstate"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/kvstore"
	"github.com/microshell/shell_host/internal/logging"
)

// Config supplies the shared dependencies exposed by a Container.
type Config struct {
	Bus        *events.Bus
	Auth       *authstate.Synchronizer
	KV         kvstore.Store
	HTTPClient *http.Client
	// Settings holds flat configuration values modules may read.
	Settings map[string]string
}

// Container is the per-session service context.
type Container struct {
	bus        *events.Bus
	auth       *authstate.Synchronizer
	kv         kvstore.Store
	httpClient *http.Client
	settings   map[string]string

	mu       sync.RWMutex
	services map[string]interface{}
}

// New creates a container from the given dependencies.
func New(cfg Config) *Container {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	settings := cfg.Settings
	if settings == nil {
		settings = make(map[string]string)
	}
	return &Container{
		bus:        cfg.Bus,
		auth:       cfg.Auth,
		kv:         cfg.KV,
		httpClient: client,
		settings:   settings,
		services:   make(map[string]interface{}),
	}
}

// Bus returns the shared event channel.
func (c *Container) Bus() *events.Bus { return c.bus }

// Auth returns the authentication state synchronizer.
func (c *Container) Auth() *authstate.Synchronizer { return c.auth }

// KV returns the shared key-value store.
func (c *Container) KV() kvstore.Store { return c.kv }

// HTTPClient returns the shared HTTP client.
func (c *Container) HTTPClient() *http.Client { return c.httpClient }

// Logger returns a logger for the named component.
func (c *Container) Logger(name string) *logging.Logger {
	return logging.New(name)
}

// Setting returns the configuration value for key, or "".
func (c *Container) Setting(key string) string {
	return c.settings[key]
}

// Register adds a named service. Registering a name twice is an error;
// modules must not silently replace each other's services.
func (c *Container) Register(name string, service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; exists {
		return fmt.Errorf("container: service %q already registered", name)
	}
	c.services[name] = service
	return nil
}

// Resolve returns the named service, or false when absent.
func (c *Container) Resolve(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[name]
	return svc, ok
}

// Unregister removes a named service, typically on module unload.
func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, name)
}
