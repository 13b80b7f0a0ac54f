package shop

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestShop(t *testing.T, config Config) (*Shop, *dispatch.Dispatcher) {
	t.Helper()
	s, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create shop: %v", err)
	}
	table := dispatch.NewRouteTable(dispatch.MatchPrefix)
	if err := s.Routes(table); err != nil {
		t.Fatalf("Failed to register routes: %v", err)
	}
	return s, dispatch.New(table, dispatch.Config{Logger: zap.NewNop(), NotFound: s.NotFound()})
}

func formRequest(method, path string, body map[string]any) *dispatch.Request {
	req := dispatch.NewRequest(method, path)
	req.Body = body
	return req
}

func dispatchOK(t *testing.T, d *dispatch.Dispatcher, req *dispatch.Request) *dispatch.Response {
	t.Helper()
	res, err := d.Dispatch(req)
	if err != nil {
		t.Fatalf("Unexpected dispatch error: %v", err)
	}
	return res
}

// TestAddProductFlow tests adding a product and seeing it listed
func TestAddProductFlow(t *testing.T) {
	_, d := newTestShop(t, Config{Title: "Book Shop"})

	res := dispatchOK(t, d, formRequest("POST", "/admin/add-product", map[string]any{"title": "Go in Action", "price": "29.99"}))
	if res.StatusCode() != http.StatusSeeOther {
		t.Fatalf("Expected status code %d, got %d", http.StatusSeeOther, res.StatusCode())
	}
	if res.Header().Get("Location") != "/" {
		t.Errorf("Expected redirect to /, got %q", res.Header().Get("Location"))
	}
	if res.Header().Get("X-Powered-By") != "SDispatch" {
		t.Errorf("Expected X-Powered-By header from the first handler")
	}

	res = dispatchOK(t, d, dispatch.NewRequest("GET", "/"))
	if res.StatusCode() != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, res.StatusCode())
	}
	body := string(res.Body())
	if !strings.Contains(body, "Go in Action") || !strings.Contains(body, "29.99") {
		t.Errorf("Expected product on the shop page, got:\n%s", body)
	}
	if !strings.Contains(body, "Book Shop") {
		t.Errorf("Expected site title on the shop page")
	}

	res = dispatchOK(t, d, dispatch.NewRequest("GET", "/admin/products"))
	var list struct {
		Products []Product `json:"products"`
	}
	if err := json.Unmarshal(res.Body(), &list); err != nil {
		t.Fatalf("Failed to decode product list: %v", err)
	}
	if len(list.Products) != 1 || list.Products[0].Title != "Go in Action" || list.Products[0].ID == "" {
		t.Errorf("Unexpected product list %+v", list.Products)
	}
}

// TestAddProductValidation tests that invalid forms are shown again with errors
func TestAddProductValidation(t *testing.T) {
	store := NewMemoryStore()
	_, d := newTestShop(t, Config{Store: store})

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{"missing title", map[string]any{"price": "1"}, "Title is required."},
		{"missing price", map[string]any{"title": "Book"}, "Price is required."},
		{"bad price", map[string]any{"title": "Book", "price": "cheap"}, "Price must be a number."},
		{"negative price", map[string]any{"title": "Book", "price": "-1"}, "Price must not be negative."},
		{"NaN price", map[string]any{"title": "Book", "price": "NaN"}, "Price must be a number."},
		{"infinite price", map[string]any{"title": "Book", "price": "Inf"}, "Price must be a number."},
		{"positive infinite price", map[string]any{"title": "Book", "price": "+Inf"}, "Price must be a number."},
		{"long title", map[string]any{"title": strings.Repeat("x", 121), "price": "1"}, "at most 120 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := dispatchOK(t, d, formRequest("POST", "/admin/add-product", tt.body))
			if res.StatusCode() != http.StatusBadRequest {
				t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, res.StatusCode())
			}
			if !strings.Contains(string(res.Body()), tt.message) {
				t.Errorf("Expected %q in the form, got:\n%s", tt.message, res.Body())
			}
		})
	}

	products, _ := store.List(context.Background())
	if len(products) != 0 {
		t.Errorf("Expected no products to be stored, got %d", len(products))
	}
}

// TestAddProductJSONBody tests that JSON numbers are accepted as prices
func TestAddProductJSONBody(t *testing.T) {
	store := NewMemoryStore()
	_, d := newTestShop(t, Config{Store: store})

	res := dispatchOK(t, d, formRequest("POST", "/admin/add-product", map[string]any{"title": "Book", "price": 12.5}))
	if res.StatusCode() != http.StatusSeeOther {
		t.Fatalf("Expected status code %d, got %d", http.StatusSeeOther, res.StatusCode())
	}
	products, _ := store.List(context.Background())
	if len(products) != 1 || products[0].Price != 12.5 {
		t.Errorf("Expected one product priced 12.5, got %+v", products)
	}
}

// TestAddProductForm tests the add-product form page
func TestAddProductForm(t *testing.T) {
	_, d := newTestShop(t, Config{})

	res := dispatchOK(t, d, dispatch.NewRequest("GET", "/admin/add-product"))
	if res.StatusCode() != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, res.StatusCode())
	}
	if !strings.Contains(string(res.Body()), `<form action="/admin/add-product" method="POST">`) {
		t.Errorf("Expected the add-product form, got:\n%s", res.Body())
	}
	if ct := res.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML content type, got %q", ct)
	}
}

// TestAdminAuth tests the basic auth guard in front of the admin pages
func TestAdminAuth(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	_, d := newTestShop(t, Config{AdminUser: "admin", AdminPassword: "secret", Logger: zap.New(core)})

	res := dispatchOK(t, d, dispatch.NewRequest("GET", "/admin/products"))
	if res.StatusCode() != http.StatusUnauthorized {
		t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, res.StatusCode())
	}
	if !strings.HasPrefix(res.Header().Get("WWW-Authenticate"), "Basic ") {
		t.Errorf("Expected a basic auth challenge, got %q", res.Header().Get("WWW-Authenticate"))
	}

	req := dispatch.NewRequest("GET", "/admin/products")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
	if res := dispatchOK(t, d, req); res.StatusCode() != http.StatusUnauthorized {
		t.Errorf("Expected status code %d for a wrong password, got %d", http.StatusUnauthorized, res.StatusCode())
	}

	req = formRequest("POST", "/admin/add-product", map[string]any{"title": "Book", "price": "3"})
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
	if res := dispatchOK(t, d, req); res.StatusCode() != http.StatusSeeOther {
		t.Errorf("Expected status code %d, got %d", http.StatusSeeOther, res.StatusCode())
	}

	if logs.FilterMessage("Authentication failed").Len() != 2 {
		t.Errorf("Expected 2 failed authentications to be logged, got %d", logs.FilterMessage("Authentication failed").Len())
	}
	added := logs.FilterMessage("Product added").All()
	if len(added) != 1 || added[0].ContextMap()["user"] != "admin" {
		t.Errorf("Expected product to be logged with its user, got %v", added)
	}

	// Public pages stay open
	if res := dispatchOK(t, d, dispatch.NewRequest("GET", "/")); res.StatusCode() != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, res.StatusCode())
	}
}

// TestMessage tests the message echo
func TestMessage(t *testing.T) {
	_, d := newTestShop(t, Config{})

	res := dispatchOK(t, d, formRequest("POST", "/message", map[string]any{"message": "hello"}))
	if string(res.Body()) != "Your message: hello" {
		t.Errorf("Expected body %q, got %q", "Your message: hello", res.Body())
	}

	res, err := d.Dispatch(formRequest("POST", "/message", nil))
	if res.StatusCode() != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, res.StatusCode())
	}
	var httpErr *dispatch.HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("Expected HTTPError, got %v", err)
	}
}

// TestNotFound tests the custom not-found page
func TestNotFound(t *testing.T) {
	_, d := newTestShop(t, Config{})

	for _, req := range []*dispatch.Request{
		dispatch.NewRequest("GET", "/nowhere"),
		dispatch.NewRequest("DELETE", "/"),
		dispatch.NewRequest("POST", "/guides"),
	} {
		res := dispatchOK(t, d, req)
		if res.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d for %s %s, got %d", http.StatusNotFound, req.Method, req.Path, res.StatusCode())
		}
		if !strings.Contains(string(res.Body()), "Page not found") {
			t.Errorf("Expected the not-found page, got:\n%s", res.Body())
		}
		if res.Header().Get("X-Powered-By") != "SDispatch" {
			t.Errorf("Expected X-Powered-By on the not-found page")
		}
	}
}
