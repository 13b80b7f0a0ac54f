package dispatch

import (
	"errors"
	"testing"
)

func noop(req *Request, res *Response, next Next) error { return next() }

func patterns(entries []RouteEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Pattern)
	}
	return out
}

// TestRouteTableMatchPrefix tests plain string prefix matching
func TestRouteTableMatchPrefix(t *testing.T) {
	table := NewRouteTable(MatchPrefix)
	for _, p := range []string{"/", "/add", "/add-product", "/admin", "/add-product/extra"} {
		if err := table.RegisterFunc(p, noop); err != nil {
			t.Fatalf("Failed to register %s: %v", p, err)
		}
	}

	tests := []struct {
		path     string
		expected []string
	}{
		{"/add-product", []string{"/", "/add", "/add-product"}},
		{"/admin/users", []string{"/", "/admin"}},
		{"/", []string{"/"}},
		{"/add-product/extra/more", []string{"/", "/add", "/add-product", "/add-product/extra"}},
	}
	for _, tt := range tests {
		got := patterns(table.Matches(NewRequest("GET", tt.path)))
		if len(got) != len(tt.expected) {
			t.Errorf("Matches(%s) = %v, expected %v", tt.path, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("Matches(%s) = %v, expected %v", tt.path, got, tt.expected)
				break
			}
		}
	}
}

// TestRouteTableMatchSegment tests segment-boundary prefix matching
func TestRouteTableMatchSegment(t *testing.T) {
	table := NewRouteTable(MatchSegment)
	table.RegisterFunc("/", noop)
	table.RegisterFunc("/add", noop)
	table.RegisterFunc("/admin/", noop)

	tests := []struct {
		path     string
		expected int
	}{
		{"/add-product", 1},
		{"/add", 2},
		{"/add/product", 2},
		{"/admin/users", 2},
		{"/admin", 1},
	}
	for _, tt := range tests {
		if got := len(table.Matches(NewRequest("GET", tt.path))); got != tt.expected {
			t.Errorf("Expected %d matches for %s, got %d", tt.expected, tt.path, got)
		}
	}
	if table.Mode().String() != "segment" {
		t.Errorf("Expected mode name %q, got %q", "segment", table.Mode().String())
	}
}

// TestRouteTableMethodEntries tests exact method entries
func TestRouteTableMethodEntries(t *testing.T) {
	table := NewRouteTable(MatchPrefix)
	table.HandleFunc("get", "/", noop)
	table.HandleFunc("POST", "/add-product", noop)

	tests := []struct {
		method   string
		path     string
		expected int
	}{
		{"GET", "/", 1},
		{"HEAD", "/", 1},
		{"POST", "/", 0},
		{"GET", "/products", 0},
		{"POST", "/add-product", 1},
		{"GET", "/add-product", 0},
		{"POST", "/add-product/x", 0},
	}
	for _, tt := range tests {
		if got := len(table.Matches(NewRequest(tt.method, tt.path))); got != tt.expected {
			t.Errorf("Expected %d matches for %s %s, got %d", tt.expected, tt.method, tt.path, got)
		}
	}
}

// TestRouteTableSeal tests that registration fails once a dispatcher owns the table
func TestRouteTableSeal(t *testing.T) {
	table := NewRouteTable(MatchPrefix)
	if err := table.RegisterFunc("/", noop); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	New(table, Config{})

	if !table.Sealed() {
		t.Errorf("Expected table to be sealed")
	}
	if err := table.RegisterFunc("/late", noop); !errors.Is(err, ErrTableSealed) {
		t.Errorf("Expected ErrTableSealed, got %v", err)
	}
	if err := table.HandleFunc("GET", "/late", noop); !errors.Is(err, ErrTableSealed) {
		t.Errorf("Expected ErrTableSealed, got %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", table.Len())
	}
}

// TestRouteTableRegisterValidation tests nil handlers and empty prefixes
func TestRouteTableRegisterValidation(t *testing.T) {
	table := NewRouteTable(MatchPrefix)

	if err := table.Register("/", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Expected ErrNilHandler, got %v", err)
	}
	if err := table.RegisterFunc("", noop); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	entries := table.Entries()
	if len(entries) != 1 || entries[0].Pattern != "/" {
		t.Errorf("Expected empty prefix to be stored as /, got %v", patterns(entries))
	}

	// Entries returns a copy
	entries[0].Pattern = "/changed"
	if table.Entries()[0].Pattern != "/" {
		t.Errorf("Expected Entries to return a copy")
	}
}

// TestRouteTableDuplicatePrefixes tests that duplicate prefixes are kept in order
func TestRouteTableDuplicatePrefixes(t *testing.T) {
	table := NewRouteTable(MatchPrefix)
	table.RegisterFunc("/", noop)
	table.RegisterFunc("/", noop)
	table.RegisterFunc("/", noop)

	if got := len(table.Matches(NewRequest("GET", "/x"))); got != 3 {
		t.Errorf("Expected 3 matches, got %d", got)
	}
}
