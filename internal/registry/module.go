// Package registry holds the static catalogue of known modules and the
// loader that resolves a module name to a running instance, either by
// activating a registered factory in-process or by constructing a remote
// proxy that delegates rendering to the module's deployed URL.
package registry

import (
	"time"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/router"
)

// Module is the contract every loadable module implements.
type Module interface {
	// Name returns the unique module identifier.
	Name() string

	// Version returns the module's semantic version.
	Version() string

	// Description returns a human-readable summary.
	Description() string

	// Icon names the icon shown next to the module in the shell.
	Icon() string

	// BasePath is the path prefix under which the module's routes live.
	BasePath() string

	// Routes returns the routes this module contributes to the shell.
	Routes() []router.RouteDefinition

	// ConfigureServices lets the module register its services with the
	// session container during activation.
	ConfigureServices(c *container.Container) error
}

// Factory constructs a module instance from its metadata. Factories are
// registered in a static dispatch table keyed by the metadata's assembly
// identifier.
type Factory func(meta Metadata) (Module, error)

// Metadata describes a known module. The descriptor fields are set at
// registry construction and never change; IsLoaded and LoadedAt are
// maintained by the loader.
type Metadata struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Assembly     string   `json:"assembly" yaml:"assembly"`
	RemoteURL    string   `json:"remoteUrl" yaml:"remote_url"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`

	IsLoaded bool      `json:"isLoaded" yaml:"-"`
	LoadedAt time.Time `json:"loadedAt,omitempty" yaml:"-"`
}

// LoadResult is the outcome of a single load attempt. Exactly one of
// Module and Err is populated, according to OK.
type LoadResult struct {
	OK       bool
	Module   Module
	Err      string
	Duration time.Duration
}

// PreloadSummary aggregates the outcome of loading every registry entry.
type PreloadSummary struct {
	Succeeded int
	Failed    int
	// Failures maps module name to the failure message.
	Failures map[string]string
}
