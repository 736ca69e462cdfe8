package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"apicourse/services/catalog/internal/validate"
)

// Categories products may belong to.
var Categories = []string{"electronics", "books", "clothing", "food", "toys"}

var skuPattern = regexp.MustCompile(`^[A-Z]{2,4}-\d{3,6}$`)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrSKUTaken        = errors.New("sku already exists")
	ErrOrderNotFound   = errors.New("order not found")
)

// ValidationError wraps a field-error map for handlers to render as 422.
type ValidationError struct {
	Fields validate.Errors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// Product is a catalog entry.
type Product struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	Stock       int       `json:"stock"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProductInput is the payload for creating or replacing a product.
type ProductInput struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Stock       int      `json:"stock"`
	Tags        []string `json:"tags"`
}

// OrderItemInput is one order line as submitted.
type OrderItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderInput is the payload for placing an order.
type OrderInput struct {
	CustomerEmail string           `json:"customerEmail"`
	CustomerPhone string           `json:"customerPhone"`
	Items         []OrderItemInput `json:"items"`
}

// OrderItem is a priced order line.
type OrderItem struct {
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Subtotal  float64 `json:"subtotal"`
}

// Order is a confirmed purchase.
type Order struct {
	ID            string      `json:"id"`
	CustomerEmail string      `json:"customerEmail"`
	CustomerPhone string      `json:"customerPhone,omitempty"`
	Items         []OrderItem `json:"items"`
	Total         float64     `json:"total"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// App holds products and orders in-process. Order placement and stock
// decrements share one lock so stock can never go negative.
type App struct {
	mu         sync.RWMutex
	products   map[string]Product
	productIDs []string
	skus       map[string]string // sku -> productID
	orders     map[string]Order
	orderIDs   []string
	documents  *documentIndex
}

// New initializes an empty catalog.
func New() *App {
	return &App{
		products:  make(map[string]Product),
		skus:      make(map[string]string),
		orders:    make(map[string]Order),
		documents: newDocumentIndex(),
	}
}

func validateProductInput(in ProductInput) validate.Errors {
	errs := validate.Errors{}
	errs.Required("sku", in.SKU)
	if in.SKU != "" {
		errs.Match("sku", in.SKU, skuPattern, "must match pattern AB-123 (2-4 uppercase letters, dash, 3-6 digits)")
	}
	errs.Length("name", in.Name, 3, 100)
	errs.Clean("name", in.Name)
	errs.Clean("description", in.Description)
	if in.Price <= 0 {
		errs.Add("price", "must be greater than 0")
	}
	errs.Range("price", in.Price, 0.01, 100000)
	errs.OneOf("category", in.Category, Categories)
	errs.Min("stock", float64(in.Stock), 0)
	errs.Tags("tags", in.Tags, 5)
	return errs
}

// CreateProduct validates and stores a product.
func (a *App) CreateProduct(in ProductInput) (Product, error) {
	if errs := validateProductInput(in); !errs.Empty() {
		return Product{}, &ValidationError{Fields: errs}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.skus[in.SKU]; taken {
		return Product{}, ErrSKUTaken
	}
	now := time.Now().UTC()
	product := Product{
		ID:          uuid.NewString(),
		SKU:         in.SKU,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Category:    strings.ToLower(in.Category),
		Stock:       in.Stock,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a.products[product.ID] = product
	a.productIDs = append(a.productIDs, product.ID)
	a.skus[product.SKU] = product.ID
	return product, nil
}

// GetProduct returns a product by ID.
func (a *App) GetProduct(id string) (Product, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	product, ok := a.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// ListProducts returns products in insertion order, optionally by category.
func (a *App) ListProducts(category string) []Product {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Product, 0, len(a.productIDs))
	for _, id := range a.productIDs {
		product, ok := a.products[id]
		if !ok {
			continue
		}
		if category != "" && !strings.EqualFold(product.Category, category) {
			continue
		}
		out = append(out, product)
	}
	return out
}

// ReplaceProduct performs a full update. The SKU may change if still unique.
func (a *App) ReplaceProduct(id string, in ProductInput) (Product, error) {
	if errs := validateProductInput(in); !errs.Empty() {
		return Product{}, &ValidationError{Fields: errs}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	current, ok := a.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	if in.SKU != current.SKU {
		if _, taken := a.skus[in.SKU]; taken {
			return Product{}, ErrSKUTaken
		}
		delete(a.skus, current.SKU)
		a.skus[in.SKU] = id
	}
	current.SKU = in.SKU
	current.Name = strings.TrimSpace(in.Name)
	current.Description = strings.TrimSpace(in.Description)
	current.Price = in.Price
	current.Category = strings.ToLower(in.Category)
	current.Stock = in.Stock
	current.Tags = in.Tags
	current.UpdatedAt = time.Now().UTC()
	a.products[id] = current
	return current, nil
}

// DeleteProduct removes a product.
func (a *App) DeleteProduct(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	product, ok := a.products[id]
	if !ok {
		return ErrProductNotFound
	}
	delete(a.products, id)
	delete(a.skus, product.SKU)
	a.productIDs = removeID(a.productIDs, id)
	return nil
}

// CreateOrder validates the order, prices it, and decrements stock. All under
// one lock so concurrent orders cannot oversell.
func (a *App) CreateOrder(in OrderInput) (Order, error) {
	errs := validate.Errors{}
	errs.Required("customerEmail", in.CustomerEmail)
	if strings.TrimSpace(in.CustomerEmail) != "" {
		errs.Email("customerEmail", in.CustomerEmail)
	}
	if strings.TrimSpace(in.CustomerPhone) != "" {
		errs.Phone("customerPhone", in.CustomerPhone)
	}
	if len(in.Items) < 1 || len(in.Items) > 20 {
		errs.Add("items", "must contain between 1 and 20 items")
	}
	for i, item := range in.Items {
		itemErrs := validate.Errors{}
		itemErrs.Required("productId", item.ProductID)
		if item.Quantity < 1 || item.Quantity > 100 {
			itemErrs.Add("quantity", "must be between 1 and 100")
		}
		errs.Merge(fmt.Sprintf("items.%d", i), itemErrs)
	}
	if !errs.Empty() {
		return Order{}, &ValidationError{Fields: errs}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Business rules need live stock, so they run under the same lock as the
	// decrement. Quantities are accumulated per product so repeated lines for
	// the same product are checked against stock as a whole.
	lines := make([]OrderItem, 0, len(in.Items))
	var total float64
	claimed := make(map[string]int, len(in.Items))
	for i, item := range in.Items {
		product, ok := a.products[item.ProductID]
		if !ok {
			errs.Add(fmt.Sprintf("items.%d.productId", i), "product does not exist")
			continue
		}
		if claimed[item.ProductID]+item.Quantity > product.Stock {
			errs.Add(fmt.Sprintf("items.%d.quantity", i),
				fmt.Sprintf("only %d in stock", product.Stock-claimed[item.ProductID]))
			continue
		}
		claimed[item.ProductID] += item.Quantity
		subtotal := product.Price * float64(item.Quantity)
		total += subtotal
		lines = append(lines, OrderItem{
			ProductID: product.ID,
			SKU:       product.SKU,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})
	}
	if !errs.Empty() {
		return Order{}, &ValidationError{Fields: errs}
	}
	for _, line := range lines {
		product := a.products[line.ProductID]
		product.Stock -= line.Quantity
		product.UpdatedAt = time.Now().UTC()
		a.products[line.ProductID] = product
	}
	order := Order{
		ID:            uuid.NewString(),
		CustomerEmail: strings.TrimSpace(strings.ToLower(in.CustomerEmail)),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Items:         lines,
		Total:         total,
		Status:        "confirmed",
		CreatedAt:     time.Now().UTC(),
	}
	a.orders[order.ID] = order
	a.orderIDs = append(a.orderIDs, order.ID)
	return order, nil
}

// GetOrder returns an order by ID.
func (a *App) GetOrder(id string) (Order, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	order, ok := a.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns orders in insertion order.
func (a *App) ListOrders() []Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Order, 0, len(a.orderIDs))
	for _, id := range a.orderIDs {
		if order, ok := a.orders[id]; ok {
			out = append(out, order)
		}
	}
	return out
}

func removeID(items []string, id string) []string {
	filtered := items[:0]
	for _, item := range items {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
