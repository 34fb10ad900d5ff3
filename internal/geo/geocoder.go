package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// the address exists as a string but the provider has no match for it
var ErrAddressNotFound = errors.New("address not found")

// the provider is unreachable, timing out, or answering garbage
var ErrUnavailable = errors.New("geocoding service unavailable")

// Resolver maps a free-form address to coordinates.
type Resolver interface {
	Resolve(ctx context.Context, address string) (Coordinates, error)
}

// Client talks to a Nominatim-compatible /search endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Resolve(ctx context.Context, address string) (Coordinates, error) {
	endpoint := c.baseURL + "/search?format=json&limit=1&q=" + url.QueryEscape(address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)

	if err != nil {
		return Coordinates{}, err
	}

	// Nominatim's usage policy requires an identifying agent
	req.Header.Set("User-Agent", "placehub/1.0")

	res, err := c.http.Do(req)

	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}

	err = json.NewDecoder(res.Body).Decode(&results)

	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(results) == 0 {
		return Coordinates{}, ErrAddressNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)

	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: bad latitude %q", ErrUnavailable, results[0].Lat)
	}

	lng, err := strconv.ParseFloat(results[0].Lon, 64)

	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: bad longitude %q", ErrUnavailable, results[0].Lon)
	}

	return Coordinates{Lat: lat, Lng: lng}, nil
}
