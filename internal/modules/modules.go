// Package modules contains the modules shipped with the shell host and
// the dispatch table that binds their activation factories to assembly
// identifiers.
package modules

import (
	"context"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/transport"
)

// Assembly identifiers for the built-in modules.
const (
	ProductsAssembly  = "Shell.Products"
	CustomersAssembly = "Shell.Customers"
	OrdersAssembly    = "Shell.Orders"
)

// RegisterFactories installs the built-in activation factories on the
// registry. The table is static: adding a module means adding a line
// here.
func RegisterFactories(reg *registry.Registry) {
	reg.RegisterFactory(ProductsAssembly, func(meta registry.Metadata) (registry.Module, error) {
		return NewProductsModule(meta), nil
	})
	reg.RegisterFactory(CustomersAssembly, func(meta registry.Metadata) (registry.Module, error) {
		return NewCustomersModule(meta), nil
	})
	reg.RegisterFactory(OrdersAssembly, func(meta registry.Metadata) (registry.Module, error) {
		return NewOrdersModule(meta), nil
	})
}

// apiClient builds the module's backend client from container services.
// The bearer token is resolved from authentication state per request.
func apiClient(c *container.Container) *transport.Client {
	cfg := transport.ClientConfig{
		BaseURL:    c.Setting("backend_base_url"),
		HTTPClient: c.HTTPClient(),
		Logger:     c.Logger("transport"),
	}
	if auth := c.Auth(); auth != nil {
		cfg.Tokens = transport.TokenSourceFunc(func(ctx context.Context) (string, error) {
			return auth.Token(ctx), nil
		})
	}
	return transport.NewClient(cfg)
}
