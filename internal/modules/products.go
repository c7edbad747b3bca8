package modules

import (
	"context"
	"fmt"

	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/router"
	"github.com/microshell/shell_host/internal/transport"
)

// ProductsModule provides the product catalogue screens and their
// backend client.
type ProductsModule struct {
	meta registry.Metadata
}

// NewProductsModule creates the products module.
func NewProductsModule(meta registry.Metadata) *ProductsModule {
	return &ProductsModule{meta: meta}
}

func (m *ProductsModule) Name() string        { return m.meta.Name }
func (m *ProductsModule) Version() string     { return m.meta.Version }
func (m *ProductsModule) Description() string { return "Product catalogue management" }
func (m *ProductsModule) Icon() string        { return "package" }
func (m *ProductsModule) BasePath() string    { return "products" }

// Routes returns the module's contributed routes.
func (m *ProductsModule) Routes() []router.RouteDefinition {
	return []router.RouteDefinition{
		{Path: "products", Component: "ProductList", DisplayName: "Products", ShowInMenu: true},
		{Path: "products/new", Component: "ProductEditor", DisplayName: "New Product"},
		{Path: "products/{id}", Component: "ProductDetail", DisplayName: "Product"},
	}
}

// ConfigureServices registers the product API client for other modules.
func (m *ProductsModule) ConfigureServices(c *container.Container) error {
	return c.Register("products.client", NewProductsClient(apiClient(c)))
}

// Product is a catalogue entry.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
}

// ProductsClient calls the product backend API.
type ProductsClient struct {
	api *transport.Client
}

// NewProductsClient creates a product API client.
func NewProductsClient(api *transport.Client) *ProductsClient {
	return &ProductsClient{api: api}
}

// List returns the product catalogue.
func (c *ProductsClient) List(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.api.GetJSON(ctx, "/api/products", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single product.
func (c *ProductsClient) Get(ctx context.Context, id string) (*Product, error) {
	var out Product
	if err := c.api.GetJSON(ctx, fmt.Sprintf("/api/products/%s", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create adds a product to the catalogue.
func (c *ProductsClient) Create(ctx context.Context, p Product) (*Product, error) {
	var out Product
	if err := c.api.PostJSON(ctx, "/api/products", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces a product.
func (c *ProductsClient) Update(ctx context.Context, p Product) (*Product, error) {
	var out Product
	if err := c.api.PutJSON(ctx, fmt.Sprintf("/api/products/%s", p.ID), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a product from the catalogue.
func (c *ProductsClient) Delete(ctx context.Context, id string) error {
	return c.api.DeleteJSON(ctx, fmt.Sprintf("/api/products/%s", id), nil)
}
