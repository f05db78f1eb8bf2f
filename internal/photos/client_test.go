package photos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(serverURL string) *Client {
	return NewClient("test-key", serverURL)
}

func TestSearch(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"photos": []map[string]any{
				{
					"id":           1234,
					"width":        4000,
					"height":       3000,
					"url":          "https://example.com/photo/1234",
					"photographer": "Ada",
					"alt":          "a sunlit harbor",
					"src": map[string]string{
						"original": "https://img.example.com/1234.jpg",
						"large":    "https://img.example.com/1234-lg.jpg",
						"medium":   "https://img.example.com/1234-md.jpg",
						"small":    "https://img.example.com/1234-sm.jpg",
					},
				},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	photos, err := c.Search(context.Background(), "sunlit harbor", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotPath != "/search?query=sunlit+harbor&per_page=5" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotAuth != "test-key" {
		t.Errorf("Authorization = %q, want test-key", gotAuth)
	}
	if len(photos) != 1 {
		t.Fatalf("got %d photos, want 1", len(photos))
	}
	p := photos[0]
	if p.ID != 1234 || p.Photographer != "Ada" || p.Alt != "a sunlit harbor" {
		t.Errorf("unexpected photo: %+v", p)
	}
	if p.Src.Medium != "https://img.example.com/1234-md.jpg" {
		t.Errorf("Src.Medium = %q", p.Src.Medium)
	}
}

func TestSearch_DefaultPerPage(t *testing.T) {
	var gotPerPage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPerPage = r.URL.Query().Get("per_page")
		json.NewEncoder(w).Encode(map[string]any{"photos": []any{}})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, err := c.Search(context.Background(), "mountains", 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotPerPage != "12" {
		t.Errorf("per_page = %q, want 12", gotPerPage)
	}
}

func TestSearch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, err := c.Search(context.Background(), "mountains", 5); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestSearch_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, err := c.Search(context.Background(), "mountains", 5); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c := NewClient("key", "")
	if c.baseURL != "https://api.pexels.com/v1" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
