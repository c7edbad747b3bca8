package modules

import (
	"context"
	"fmt"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/router"
	"github.com/microshell/shell_host/internal/transport"
)

// CustomersModule provides the customer directory screens and their
// backend client.
type CustomersModule struct {
	meta registry.Metadata
}

// NewCustomersModule creates the customers module.
func NewCustomersModule(meta registry.Metadata) *CustomersModule {
	return &CustomersModule{meta: meta}
}

func (m *CustomersModule) Name() string        { return m.meta.Name }
func (m *CustomersModule) Version() string     { return m.meta.Version }
func (m *CustomersModule) Description() string { return "Customer directory" }
func (m *CustomersModule) Icon() string        { return "users" }
func (m *CustomersModule) BasePath() string    { return "customers" }

// Routes returns the module's contributed routes.
func (m *CustomersModule) Routes() []router.RouteDefinition {
	return []router.RouteDefinition{
		{Path: "customers", Component: "CustomerList", DisplayName: "Customers", ShowInMenu: true},
		{Path: "customers/{id}", Component: "CustomerDetail", DisplayName: "Customer"},
		{Path: "customers/{id}/orders", Component: "CustomerOrders", DisplayName: "Customer Orders"},
	}
}

// ConfigureServices registers the customer API client for other modules.
func (m *CustomersModule) ConfigureServices(c *container.Container) error {
	return c.Register("customers.client", NewCustomersClient(apiClient(c)))
}

// Customer is a directory entry.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
}

// CustomersClient calls the customer backend API.
type CustomersClient struct {
	api *transport.Client
}

// NewCustomersClient creates a customer API client.
func NewCustomersClient(api *transport.Client) *CustomersClient {
	return &CustomersClient{api: api}
}

// List returns the customer directory.
func (c *CustomersClient) List(ctx context.Context) ([]Customer, error) {
	var out []Customer
	if err := c.api.GetJSON(ctx, "/api/customers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single customer.
func (c *CustomersClient) Get(ctx context.Context, id string) (*Customer, error) {
	var out Customer
	if err := c.api.GetJSON(ctx, fmt.Sprintf("/api/customers/%s", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces a customer record.
func (c *CustomersClient) Update(ctx context.Context, cust Customer) (*Customer, error) {
	var out Customer
	if err := c.api.PutJSON(ctx, fmt.Sprintf("/api/customers/%s", cust.ID), cust, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
