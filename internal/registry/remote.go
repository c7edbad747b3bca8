package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/router"
)

// RemoteFrameComponent is the component reference carried by routes that
// render inside an embedded frame.
const RemoteFrameComponent = "RemoteFrame"

// remoteURLParam is the route parameter naming the frame target.
const remoteURLParam = "remoteUrl"

// RemoteModule is the proxy handle used when a module cannot be
// activated in-process. It advertises either the routes discovered from
// the module's manifest or a single wildcard route, all rendered as an
// embedded frame pointed at the module's deployed URL.
type RemoteModule struct {
	meta   Metadata
	routes []router.RouteDefinition
}

// NewRemoteModule creates a proxy for the described module.
func NewRemoteModule(meta Metadata) *RemoteModule {
	return &RemoteModule{meta: meta}
}

// Name implements Module.
func (m *RemoteModule) Name() string { return m.meta.Name }

// Version implements Module.
func (m *RemoteModule) Version() string { return m.meta.Version }

// Description implements Module.
func (m *RemoteModule) Description() string {
	return fmt.Sprintf("remote proxy for %s at %s", m.meta.Name, m.meta.RemoteURL)
}

// Icon implements Module.
func (m *RemoteModule) Icon() string { return "cloud" }

// BasePath implements Module.
func (m *RemoteModule) BasePath() string { return m.meta.Name }

// Routes implements Module. Without manifest discovery the proxy
// contributes one wildcard route covering its whole base path.
func (m *RemoteModule) Routes() []router.RouteDefinition {
	if len(m.routes) > 0 {
		return m.routes
	}
	return []router.RouteDefinition{{
		Path:        m.meta.Name + "/*",
		Component:   RemoteFrameComponent,
		DisplayName: m.meta.Name,
		ShowInMenu:  true,
		Params:      map[string]string{remoteURLParam: m.meta.RemoteURL},
	}}
}

// ConfigureServices implements Module. A remote proxy registers nothing.
func (m *RemoteModule) ConfigureServices(*container.Container) error { return nil }

// RemoteURL returns the module's deployed base URL.
func (m *RemoteModule) RemoteURL() string { return m.meta.RemoteURL }

// FrameURL returns the embedded-frame target for a path within the
// module, following the remoteUrl + "/" + modulePath convention.
func (m *RemoteModule) FrameURL(modulePath string) string {
	base := strings.TrimRight(m.meta.RemoteURL, "/")
	modulePath = strings.TrimLeft(modulePath, "/")
	if modulePath == "" {
		return base
	}
	return base + "/" + modulePath
}

// ApplyManifest replaces the proxy's wildcard route with the routes the
// module's manifest declares.
func (m *RemoteModule) ApplyManifest(manifest RemoteManifest) {
	if manifest.Version != "" {
		m.meta.Version = manifest.Version
	}
	if len(manifest.Routes) == 0 {
		return
	}
	routes := make([]router.RouteDefinition, 0, len(manifest.Routes))
	for _, r := range manifest.Routes {
		if r.Component == "" {
			r.Component = RemoteFrameComponent
		}
		if r.Params == nil {
			r.Params = map[string]string{}
		}
		r.Params[remoteURLParam] = m.meta.RemoteURL
		routes = append(routes, r)
	}
	m.routes = routes
}

// RemoteManifest is the subset of a remote module's manifest the shell
// consumes.
type RemoteManifest struct {
	Version string
	Routes  []router.RouteDefinition
}

// ManifestFetcher retrieves remote module manifests. Remote deployments
// are not required to publish one; every failure here is soft and the
// loader falls back to the wildcard proxy.
type ManifestFetcher struct {
	client  *http.Client
	maxBody int64
}

// NewManifestFetcher creates a fetcher with a conservative timeout.
func NewManifestFetcher(client *http.Client) *ManifestFetcher {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &ManifestFetcher{client: client, maxBody: 256 << 10}
}

// Fetch retrieves and parses remoteURL + "/manifest.json". Manifests are
// produced by third parties, so parsing is lenient: missing fields are
// skipped rather than rejected.
func (f *ManifestFetcher) Fetch(ctx context.Context, remoteURL string) (RemoteManifest, error) {
	endpoint := strings.TrimRight(remoteURL, "/") + "/manifest.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return RemoteManifest{}, fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return RemoteManifest{}, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RemoteManifest{}, fmt.Errorf("manifest fetch: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return RemoteManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return RemoteManifest{}, fmt.Errorf("manifest is not valid JSON")
	}

	manifest := RemoteManifest{
		Version: gjson.GetBytes(body, "version").String(),
	}
	for _, entry := range gjson.GetBytes(body, "routes").Array() {
		path := entry.Get("path").String()
		if path == "" {
			continue
		}
		manifest.Routes = append(manifest.Routes, router.RouteDefinition{
			Path:        path,
			Component:   entry.Get("component").String(),
			DisplayName: entry.Get("displayName").String(),
			ShowInMenu:  entry.Get("showInMenu").Bool(),
		})
	}
	return manifest, nil
}
