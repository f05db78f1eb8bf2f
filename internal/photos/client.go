package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.pexels.com/v1"

// Photo is one stock photo search result, trimmed to the fields the deck
// editor needs.
type Photo struct {
	ID           int64    `json:"id"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	URL          string   `json:"url"`
	Photographer string   `json:"photographer"`
	Alt          string   `json:"alt"`
	Src          PhotoSrc `json:"src"`
}

// PhotoSrc carries the provider's pre-sized renditions.
type PhotoSrc struct {
	Original string `json:"original"`
	Large    string `json:"large"`
	Medium   string `json:"medium"`
	Small    string `json:"small"`
}

// Client searches a Pexels-compatible stock photo API. The server proxies
// searches so the API key never reaches browsers.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a photo search client. An empty baseURL uses the Pexels
// API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type searchResponse struct {
	Photos []Photo `json:"photos"`
}

// Search returns up to perPage photos matching the query.
func (c *Client) Search(ctx context.Context, query string, perPage int) ([]Photo, error) {
	if perPage <= 0 {
		perPage = 12
	}

	u := c.baseURL + "/search?query=" + url.QueryEscape(query) + "&per_page=" + strconv.Itoa(perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("photo search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo api returned %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return sr.Photos, nil
}
