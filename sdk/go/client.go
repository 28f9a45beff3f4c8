package gaslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gasline HTTP API client.
type Client struct {
	BaseURL     string
	DepotID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, depotID string) *Client {
	return &Client{
		BaseURL: baseURL,
		DepotID: depotID,
		Timeout: 10 * time.Second,
	}
}

// OrderItem is one cylinder line on an order.
type OrderItem struct {
	ProductID         string `json:"product_id"`
	CylinderSize      string `json:"cylinder_size"`
	Quantity          int    `json:"quantity"`
	DeliveredQuantity int    `json:"delivered_quantity"`
	ReturnedQuantity  int    `json:"returned_quantity"`
}

// Order represents the API order model (partial).
type Order struct {
	ID         string      `json:"id"`
	DepotID    string      `json:"depot_id"`
	CustomerID string      `json:"customer_id"`
	Status     string      `json:"status"`
	DriverID   string      `json:"driver_id,omitempty"`
	VehicleID  string      `json:"vehicle_id,omitempty"`
	Items      []OrderItem `json:"items"`
}

// StockLevel is one bucket of the depot stock projection.
type StockLevel struct {
	CylinderSize string `json:"cylinder_size"`
	StockStatus  string `json:"stock_status"`
	Quantity     int    `json:"quantity"`
}

// Movement represents a ledger entry.
type Movement struct {
	ID             string `json:"id"`
	DepotID        string `json:"depot_id"`
	CylinderSize   string `json:"cylinder_size"`
	MovementType   string `json:"movement_type"`
	Quantity       int    `json:"quantity"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	RelatedOrderID string `json:"related_order_id,omitempty"`
	ActorID        string `json:"actor_id"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	DepotID    string         `json:"depot_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedOrders wraps order listings with cursors.
type PaginatedOrders struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateOrder creates an order with line items.
func (c *Client) CreateOrder(ctx context.Context, customerID, siteID string, items []OrderItem) (Order, error) {
	body := map[string]any{
		"customer_id": customerID,
		"site_id":     siteID,
		"items":       items,
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, c.depotPath("orders"), body, &resp)
	return resp, err
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var resp Order
	endpoint := c.depotPath(fmt.Sprintf("orders/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListOrders returns a paginated order listing.
func (c *Client) ListOrders(ctx context.Context, status string, limit int, cursor string) (PaginatedOrders, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.depotPath("orders")
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedOrders
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DispatchOrder dispatches a loaded order.
func (c *Client) DispatchOrder(ctx context.Context, id string) (Order, error) {
	var resp Order
	endpoint := c.depotPath(fmt.Sprintf("orders/%s/dispatch", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// DeliveryLine is one per-product delivery outcome.
type DeliveryLine struct {
	ProductID         string `json:"product_id"`
	DeliveredQuantity int    `json:"delivered_quantity"`
	EmptiesCollected  int    `json:"empties_collected"`
}

// CompleteDelivery records the delivery outcome for an arrived order.
func (c *Client) CompleteDelivery(ctx context.Context, id string, lines []DeliveryLine) (Order, error) {
	body := map[string]any{"lines": lines}
	var resp Order
	endpoint := c.depotPath(fmt.Sprintf("orders/%s/delivery", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Stock returns current stock levels.
func (c *Client) Stock(ctx context.Context) ([]StockLevel, error) {
	var resp []StockLevel
	err := c.do(ctx, http.MethodGet, c.depotPath("stock"), nil, &resp)
	return resp, err
}

// RecordMovement appends a manual ledger movement.
func (c *Client) RecordMovement(ctx context.Context, size, movementType string, qty int, notes string) (Movement, error) {
	body := map[string]any{
		"cylinder_size": size,
		"movement_type": movementType,
		"quantity":      qty,
		"notes":         notes,
	}
	var resp Movement
	err := c.do(ctx, http.MethodPost, c.depotPath("movements"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.depotPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) depotPath(p string) string {
	depot := url.PathEscape(c.DepotID)
	return fmt.Sprintf("v0/depots/%s/%s", depot, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
