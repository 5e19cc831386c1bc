package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"storefront/shopclient/internal/shop"
)

func (c *Client) Login(ctx context.Context, username, password string) (shop.Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tok shop.Token
	err := c.send(ctx, call{
		method:      http.MethodPost,
		path:        "/users/token",
		route:       "/users/token",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &tok)
	if err != nil {
		return shop.Token{}, err
	}
	if tok.AccessToken == "" {
		return shop.Token{}, fmt.Errorf("login: backend returned an empty access token")
	}
	return tok, nil
}

func (c *Client) CurrentUser(ctx context.Context) (shop.User, error) {
	var u shop.User
	if err := c.Do(ctx, http.MethodGet, "/users/me", nil, true, &u); err != nil {
		return shop.User{}, err
	}
	return u, nil
}

func (c *Client) Register(ctx context.Context, in shop.RegisterInput) (shop.User, error) {
	body := map[string]string{
		"username": in.Username,
		"email":    in.Email,
		"password": in.Password,
	}
	var u shop.User
	if err := c.Do(ctx, http.MethodPost, "/users", body, false, &u); err != nil {
		return shop.User{}, err
	}
	return u, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int64, patch shop.UserPatch) (shop.User, error) {
	var u shop.User
	err := c.jsonCall(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), "/users/{id}", patch, true, &u)
	if err != nil {
		return shop.User{}, err
	}
	return u, nil
}

func (c *Client) Products(ctx context.Context, category string) ([]shop.Product, error) {
	cl := call{method: http.MethodGet, path: "/products", route: "/products"}
	if category = strings.TrimSpace(category); category != "" {
		cl.query = url.Values{"category": {category}}
	}
	var out []shop.Product
	if err := c.send(ctx, cl, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Product(ctx context.Context, id int64) (shop.Product, error) {
	var p shop.Product
	err := c.send(ctx, call{method: http.MethodGet, path: fmt.Sprintf("/products/%d", id), route: "/products/{id}"}, &p)
	if err != nil {
		return shop.Product{}, err
	}
	return p, nil
}

func (c *Client) SearchProducts(ctx context.Context, query string) ([]shop.Product, error) {
	var out []shop.Product
	err := c.send(ctx, call{
		method: http.MethodGet,
		path:   "/products/search",
		route:  "/products/search",
		query:  url.Values{"query": {query}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder submits an order. The idempotency key lets the backend recognise
// a resubmission of the same checkout attempt.
func (c *Client) CreateOrder(ctx context.Context, order shop.OrderCreate, idempotencyKey string) (shop.Order, error) {
	b, err := json.Marshal(order)
	if err != nil {
		return shop.Order{}, fmt.Errorf("marshal order: %w", err)
	}
	cl := call{
		method:       http.MethodPost,
		path:         "/orders",
		route:        "/orders",
		body:         strings.NewReader(string(b)),
		contentType:  "application/json",
		requiresAuth: true,
	}
	if idempotencyKey != "" {
		cl.header = http.Header{IdempotencyKeyHeader: {idempotencyKey}}
	}
	var out shop.Order
	if err := c.send(ctx, cl, &out); err != nil {
		return shop.Order{}, err
	}
	return out, nil
}

func (c *Client) Orders(ctx context.Context) ([]shop.Order, error) {
	var out []shop.Order
	if err := c.Do(ctx, http.MethodGet, "/orders", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Order(ctx context.Context, id int64) (shop.Order, error) {
	var o shop.Order
	if err := c.jsonCall(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", id), "/orders/{id}", nil, true, &o); err != nil {
		return shop.Order{}, err
	}
	return o, nil
}

func (c *Client) OrderDetails(ctx context.Context, id int64) (shop.Order, error) {
	var o shop.Order
	err := c.jsonCall(ctx, http.MethodGet, fmt.Sprintf("/orders/%d/details", id), "/orders/{id}/details", nil, true, &o)
	if err != nil {
		return shop.Order{}, err
	}
	return o, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status shop.OrderStatus) (shop.Order, error) {
	var o shop.Order
	body := map[string]shop.OrderStatus{"status": status}
	if err := c.jsonCall(ctx, http.MethodPut, fmt.Sprintf("/orders/%d", id), "/orders/{id}", body, true, &o); err != nil {
		return shop.Order{}, err
	}
	return o, nil
}

// CancelOrder cancels an order that is still pending.
func (c *Client) CancelOrder(ctx context.Context, id int64) (shop.Order, error) {
	o, err := c.Order(ctx, id)
	if err != nil {
		return shop.Order{}, err
	}
	if !o.Status.Cancellable() {
		return o, fmt.Errorf("order %d is %s: %w", id, o.Status, ErrNotCancellable)
	}
	return c.UpdateOrderStatus(ctx, id, shop.OrderCancelled)
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, call{method: http.MethodGet, path: "/products", route: "/products"}, nil)
}

func (c *Client) jsonCall(ctx context.Context, method, path, route string, body any, requiresAuth bool, out any) error {
	cl := call{method: method, path: path, route: route, requiresAuth: requiresAuth}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		cl.body = strings.NewReader(string(b))
		cl.contentType = "application/json"
	}
	return c.send(ctx, cl, out)
}
