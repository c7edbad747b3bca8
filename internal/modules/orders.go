package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/router"
	"github.com/microshell/shell_host/internal/transport"
)

// OrdersModule provides the order management screens and their backend
// client. It announces status changes on the event channel so other
// modules can react.
type OrdersModule struct {
	meta registry.Metadata
}

// NewOrdersModule creates the orders module.
func NewOrdersModule(meta registry.Metadata) *OrdersModule {
	return &OrdersModule{meta: meta}
}

func (m *OrdersModule) Name() string        { return m.meta.Name }
func (m *OrdersModule) Version() string     { return m.meta.Version }
func (m *OrdersModule) Description() string { return "Order management" }
func (m *OrdersModule) Icon() string        { return "shopping-cart" }
func (m *OrdersModule) BasePath() string    { return "orders" }

// Routes returns the module's contributed routes.
func (m *OrdersModule) Routes() []router.RouteDefinition {
	return []router.RouteDefinition{
		{Path: "orders", Component: "OrderList", DisplayName: "Orders", ShowInMenu: true},
		{Path: "orders/{id}", Component: "OrderDetail", DisplayName: "Order"},
	}
}

// ConfigureServices registers the order API client for other modules.
func (m *OrdersModule) ConfigureServices(c *container.Container) error {
	client := NewOrdersClient(apiClient(c), c.Bus())
	return c.Register("orders.client", client)
}

// Order is a placed order.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	PlacedAt   time.Time `json:"placedAt"`
}

// OrdersClient calls the order backend API.
type OrdersClient struct {
	api *transport.Client
	bus *events.Bus
}

// NewOrdersClient creates an order API client.
func NewOrdersClient(api *transport.Client, bus *events.Bus) *OrdersClient {
	return &OrdersClient{api: api, bus: bus}
}

// List returns all orders.
func (c *OrdersClient) List(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.api.GetJSON(ctx, "/api/orders", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForCustomer returns the orders placed by one customer.
func (c *OrdersClient) ListForCustomer(ctx context.Context, customerID string) ([]Order, error) {
	var out []Order
	path := fmt.Sprintf("/api/customers/%s/orders", customerID)
	if err := c.api.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single order.
func (c *OrdersClient) Get(ctx context.Context, id string) (*Order, error) {
	var out Order
	if err := c.api.GetJSON(ctx, fmt.Sprintf("/api/orders/%s", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus changes an order's status and announces the change on
// the event channel.
func (c *OrdersClient) UpdateStatus(ctx context.Context, id, status string) (*Order, error) {
	var out Order
	body := map[string]string{"status": status}
	if err := c.api.PutJSON(ctx, fmt.Sprintf("/api/orders/%s/status", id), body, &out); err != nil {
		return nil, err
	}
	if c.bus != nil {
		c.bus.PublishAsync(context.WithoutCancel(ctx), events.CrossModuleData{
			SourceModule: "orders",
			DataType:     "order.status",
			Data:         map[string]interface{}{"orderId": id, "status": status},
			Timestamp:    time.Now().UTC(),
		})
	}
	return &out, nil
}
