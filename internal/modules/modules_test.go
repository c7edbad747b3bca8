package modules

import (
	"testing"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/logging"
	"github.com/microshell/shell_host/internal/registry"
)

func TestRegisterFactories(t *testing.T) {
	reg := registry.NewRegistry(nil)
	RegisterFactories(reg)

	for _, assembly := range []string{ProductsAssembly, CustomersAssembly, OrdersAssembly} {
		factory, ok := reg.Factory(assembly)
		if !ok {
			t.Errorf("no factory for %s", assembly)
			continue
		}
		mod, err := factory(registry.Metadata{Name: "m", Version: "1.0.0", Assembly: assembly})
		if err != nil {
			t.Errorf("%s factory: %v", assembly, err)
			continue
		}
		if mod == nil {
			t.Errorf("%s factory returned nil module", assembly)
		}
	}
}

func TestModulesContributeRoutes(t *testing.T) {
	cases := []struct {
		name      string
		module    registry.Module
		wantMenu  string
		wantCount int
	}{
		{"products", NewProductsModule(registry.Metadata{Name: "products"}), "products", 3},
		{"customers", NewCustomersModule(registry.Metadata{Name: "customers"}), "customers", 3},
		{"orders", NewOrdersModule(registry.Metadata{Name: "orders"}), "orders", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			routes := tc.module.Routes()
			if len(routes) != tc.wantCount {
				t.Fatalf("got %d routes, want %d", len(routes), tc.wantCount)
			}
			menu := false
			for _, r := range routes {
				if r.Path == tc.wantMenu && r.ShowInMenu {
					menu = true
				}
				if r.Component == "" {
					t.Errorf("route %q has no component", r.Path)
				}
			}
			if !menu {
				t.Errorf("no menu route %q", tc.wantMenu)
			}
		})
	}
}

func TestConfigureServicesRegistersClients(t *testing.T) {
	bus := events.NewBus(logging.NewNop())
	c := container.New(container.Config{
		Bus:      bus,
		Settings: map[string]string{"backend_base_url": "https://api.example.com"},
	})

	mods := []registry.Module{
		NewProductsModule(registry.Metadata{Name: "products"}),
		NewCustomersModule(registry.Metadata{Name: "customers"}),
		NewOrdersModule(registry.Metadata{Name: "orders"}),
	}
	for _, mod := range mods {
		if err := mod.ConfigureServices(c); err != nil {
			t.Fatalf("%s ConfigureServices: %v", mod.Name(), err)
		}
	}

	for _, name := range []string{"products.client", "customers.client", "orders.client"} {
		if _, ok := c.Resolve(name); !ok {
			t.Errorf("service %s not registered", name)
		}
	}

	// A second activation against the same container must surface the
	// duplicate registration instead of replacing the client.
	if err := NewProductsModule(registry.Metadata{Name: "products"}).ConfigureServices(c); err == nil {
		t.Error("duplicate service registration succeeded")
	}
}
