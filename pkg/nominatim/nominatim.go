// Package nominatim is a small client for the OpenStreetMap search API.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrLocationNotFound = errors.New("location not found")

const maxResponseSizeBytes = 1 << 20

type Config struct {
	BaseURL   string        `envconfig:"BASE_URL" split_words:"true" default:"https://nominatim.openstreetmap.org"`
	UserAgent string        `envconfig:"USER_AGENT" split_words:"true" default:"AgentBeforeAmbulance/1.0"`
	Email     string        `envconfig:"EMAIL" split_words:"true"`
	Timeout   time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	// Public instances allow one request per second.
	RatePerSecond float64 `envconfig:"RATE_PER_SECOND" split_words:"true" default:"1"`
}

type Place struct {
	DisplayName string
	Lat         float64
	Lon         float64
}

type searchHit struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	userAgent  string
	email      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("nominatim base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid nominatim url: %w", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		return nil, errors.New("nominatim user agent is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	c := &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		email:      strings.TrimSpace(cfg.Email),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Search returns the best match for query, or ErrLocationNotFound.
func (c *Client) Search(ctx context.Context, query string) (Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Place{}, ErrLocationNotFound
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("nominatim rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	if c.email != "" {
		params.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("build nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("execute nominatim request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return Place{}, fmt.Errorf("read nominatim response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Place{}, fmt.Errorf("nominatim http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var hits []searchHit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return Place{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(hits) == 0 {
		return Place{}, ErrLocationNotFound
	}

	hit := hits[0]
	lat, err := strconv.ParseFloat(hit.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parse nominatim lat %q: %w", hit.Lat, err)
	}
	lon, err := strconv.ParseFloat(hit.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parse nominatim lon %q: %w", hit.Lon, err)
	}
	return Place{DisplayName: hit.DisplayName, Lat: lat, Lon: lon}, nil
}
