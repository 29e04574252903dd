// Package clients provides HTTP clients for the external systems the cart
// recovery service depends on: the WooCommerce REST API and mail transports.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/models"
)

const (
	// CatalogCacheTTL keeps product lookups short-lived for price accuracy
	CatalogCacheTTL = 1 * time.Minute

	catalogCachePrefix = "cart-recovery:catalog:"
	wooDateLayout      = "2006-01-02T15:04:05"
)

// APIError is returned when the commerce API answers with a non-2xx status
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce API returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the commerce API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// MetaData is one key/value entry of a WooCommerce order's metadata list
type MetaData struct {
	ID    int64       `json:"id,omitempty"`
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// OrderLineItem is a WooCommerce order line
type OrderLineItem struct {
	ID          int64       `json:"id,omitempty"`
	Name        string      `json:"name,omitempty"`
	ProductID   int64       `json:"product_id,omitempty"`
	VariationID int64       `json:"variation_id,omitempty"`
	Quantity    int         `json:"quantity"`
	Price       json.Number `json:"price,omitempty"`
}

// Order is the subset of a WooCommerce order the service reads
type Order struct {
	ID             int64              `json:"id"`
	Status         string             `json:"status"`
	Total          string             `json:"total"`
	DateCreatedGMT string             `json:"date_created_gmt"`
	Billing        models.BillingData `json:"billing"`
	LineItems      []OrderLineItem    `json:"line_items"`
	MetaData       []MetaData         `json:"meta_data"`
}

// CreatedAt parses the GMT creation date
func (o *Order) CreatedAt() time.Time {
	t, err := time.ParseInLocation(wooDateLayout, o.DateCreatedGMT, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TotalAmount parses the decimal order total
func (o *Order) TotalAmount() float64 {
	v, _ := strconv.ParseFloat(o.Total, 64)
	return v
}

// Meta returns the string value of a metadata key
func (o *Order) Meta(key string) (string, bool) {
	for _, m := range o.MetaData {
		if m.Key != key {
			continue
		}
		switch v := m.Value.(type) {
		case string:
			return v, true
		case nil:
			return "", true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// CreateOrderRequest is the payload of POST /orders
type CreateOrderRequest struct {
	Status     string             `json:"status"`
	SetPaid    bool               `json:"set_paid"`
	CreatedVia string             `json:"created_via,omitempty"`
	Billing    models.BillingData `json:"billing"`
	LineItems  []OrderLineItem    `json:"line_items"`
	MetaData   []MetaData         `json:"meta_data"`
}

// UpdateOrderRequest is the payload of PUT /orders/{id}. Only billing keys
// present in the map are changed by WooCommerce. A line item sent with its id
// and a zero quantity is removed from the order.
type UpdateOrderRequest struct {
	Billing   map[string]string `json:"billing,omitempty"`
	LineItems []OrderLineItem   `json:"line_items,omitempty"`
	MetaData  []MetaData        `json:"meta_data,omitempty"`
}

// OrderQuery filters GET /orders
type OrderQuery struct {
	Status  string
	After   time.Time
	Page    int
	PerPage int
}

// Image is a catalog image reference
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Product is the subset of a WooCommerce product the service returns
type Product struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Permalink    string  `json:"permalink"`
	Status       string  `json:"status"`
	Price        string  `json:"price"`
	RegularPrice string  `json:"regular_price"`
	SalePrice    string  `json:"sale_price"`
	StockStatus  string  `json:"stock_status"`
	Images       []Image `json:"images"`
}

// Attribute is a variation attribute such as size or weight
type Attribute struct {
	Name   string `json:"name"`
	Option string `json:"option"`
}

// Variation is the subset of a WooCommerce product variation the service returns
type Variation struct {
	ID           int64       `json:"id"`
	Price        string      `json:"price"`
	RegularPrice string      `json:"regular_price"`
	SalePrice    string      `json:"sale_price"`
	StockStatus  string      `json:"stock_status"`
	Image        *Image      `json:"image,omitempty"`
	Attributes   []Attribute `json:"attributes"`
}

// CommerceClient is a WooCommerce REST v3 client authenticated with a
// consumer key/secret pair.
type CommerceClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	maxRetries     uint64

	redis     *redis.Client
	cache     map[string]*catalogCacheEntry
	cacheTTL  time.Duration
	nextSweep time.Time
	mu        sync.RWMutex

	logger *logrus.Entry
}

type catalogCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// CommerceClientConfig configures a CommerceClient
type CommerceClientConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	MaxRetries     uint64
	Redis          *redis.Client // optional shared catalog cache
}

// NewCommerceClient creates a WooCommerce client with connection pooling
func NewCommerceClient(cfg CommerceClientConfig, logger *logrus.Logger) *CommerceClient {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &CommerceClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/") + "/wp-json/wc/v3",
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxRetries: cfg.MaxRetries,
		redis:      cfg.Redis,
		cache:      make(map[string]*catalogCacheEntry),
		cacheTTL:   CatalogCacheTTL,
		logger:     logger.WithField("component", "commerce-client"),
	}
}

// ListOrders fetches one page of orders
func (c *CommerceClient) ListOrders(ctx context.Context, q OrderQuery) ([]Order, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if !q.After.IsZero() {
		params.Set("after", q.After.UTC().Format(wooDateLayout))
		params.Set("dates_are_gmt", "true")
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	params.Set("orderby", "date")
	params.Set("order", "desc")

	var orders []Order
	if err := c.getJSON(ctx, "/orders", params, &orders); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetOrder fetches a single order
func (c *CommerceClient) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order Order
	if err := c.getJSON(ctx, fmt.Sprintf("/orders/%d", id), nil, &order); err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// CreateOrder creates a new order
func (c *CommerceClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.sendJSON(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &order, nil
}

// UpdateOrder updates billing and/or metadata of an order
func (c *CommerceClient) UpdateOrder(ctx context.Context, id int64, req *UpdateOrderRequest) (*Order, error) {
	var order Order
	if err := c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/orders/%d", id), req, &order); err != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", id, err)
	}
	return &order, nil
}

// GetProduct fetches a product, served from cache when fresh
func (c *CommerceClient) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	var product Product
	key := fmt.Sprintf("product:%d", productID)
	if err := c.cachedGet(ctx, key, fmt.Sprintf("/products/%d", productID), &product); err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", productID, err)
	}
	return &product, nil
}

// GetVariation fetches a product variation, served from cache when fresh
func (c *CommerceClient) GetVariation(ctx context.Context, productID, variationID int64) (*Variation, error) {
	var variation Variation
	key := fmt.Sprintf("variation:%d:%d", productID, variationID)
	path := fmt.Sprintf("/products/%d/variations/%d", productID, variationID)
	if err := c.cachedGet(ctx, key, path, &variation); err != nil {
		return nil, fmt.Errorf("failed to get variation %d of product %d: %w", variationID, productID, err)
	}
	return &variation, nil
}

// InvalidateProduct drops a product from both cache tiers
func (c *CommerceClient) InvalidateProduct(ctx context.Context, productID int64) {
	key := fmt.Sprintf("product:%d", productID)
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()
	if c.redis != nil {
		c.redis.Del(ctx, catalogCachePrefix+key)
	}
}

// cachedGet checks memory, then Redis, then the API
func (c *CommerceClient) cachedGet(ctx context.Context, key, path string, out interface{}) error {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		if time.Now().Before(entry.expiresAt) {
			return json.Unmarshal(entry.payload, out)
		}
		c.mu.Lock()
		if current, found := c.cache[key]; found && !time.Now().Before(current.expiresAt) {
			delete(c.cache, key)
		}
		c.mu.Unlock()
	}

	if c.redis != nil {
		if val, err := c.redis.Get(ctx, catalogCachePrefix+key).Bytes(); err == nil {
			if json.Unmarshal(val, out) == nil {
				c.store(key, val)
				return nil
			}
		}
	}

	payload, err := c.getRaw(ctx, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	c.store(key, payload)
	if c.redis != nil {
		if err := c.redis.Set(ctx, catalogCachePrefix+key, payload, c.cacheTTL).Err(); err != nil {
			c.logger.WithError(err).Debug("Failed to write catalog cache")
		}
	}
	return nil
}

// store caches a payload and, at most once per TTL, drops every expired entry
// so keys that are never requested again do not accumulate
func (c *CommerceClient) store(key string, payload []byte) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = &catalogCacheEntry{payload: payload, expiresAt: now.Add(c.cacheTTL)}
	if now.Before(c.nextSweep) {
		return
	}
	for k, entry := range c.cache {
		if !now.Before(entry.expiresAt) {
			delete(c.cache, k)
		}
	}
	c.nextSweep = now.Add(c.cacheTTL)
}

func (c *CommerceClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	payload, err := c.getRaw(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getRaw performs a GET, retrying network errors, 429 and 5xx with backoff
func (c *CommerceClient) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var payload []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		body, err := c.do(req)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		payload = body
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithField("path", path).Warnf("Retrying commerce API call in %v", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *CommerceClient) sendJSON(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	payload, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *CommerceClient) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cart-recovery-service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call commerce API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
