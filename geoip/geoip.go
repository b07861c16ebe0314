// Package geoip resolves client IPs to a coarse location for device alerts.
//
// Lookups never fail the caller: private addresses, timeouts, throttling and
// upstream errors all resolve to a nil *Location.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "http://ip-api.com/json/"
	DefaultTimeout  = 2 * time.Second
	DefaultCacheTTL = 24 * time.Hour
)

// Location is the subset of geolocation data kept on a known device.
type Location struct {
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// Config tunes the HTTP resolver.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	CacheTTL time.Duration
	// RequestsPerMinute caps outbound lookups. ip-api's free tier allows 45.
	RequestsPerMinute int
}

// Client is an HTTP resolver with a response cache and an outbound limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   cache.Store
	limiter *rate.Limiter
	logger  *slog.Logger
}

type apiResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// New builds a Client. store may be nil to disable caching.
func New(cfg Config, store cache.Store, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 45
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   store,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 5),
		logger:  logger.With("component", "geoip"),
	}
}

// Lookup returns the location of ip, or nil when it cannot be resolved.
func (c *Client) Lookup(ctx context.Context, ip string) *Location {
	parsed := net.ParseIP(ip)
	if parsed == nil || !IsPublic(parsed) {
		return nil
	}
	key := "geo:" + parsed.String()

	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			var loc Location
			if json.Unmarshal(raw, &loc) == nil {
				return &loc
			}
		}
	}

	if !c.limiter.Allow() {
		c.logger.Debug("geoip lookup throttled")
		return nil
	}

	loc, err := c.fetch(ctx, parsed.String())
	if err != nil {
		c.logger.Warn("geoip lookup failed", "err", err)
		return nil
	}

	if c.cache != nil {
		if raw, err := json.Marshal(loc); err == nil {
			_ = c.cache.Set(ctx, key, raw, c.cfg.CacheTTL)
		}
	}
	return loc
}

func (c *Client) fetch(ctx context.Context, ip string) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.Endpoint + url.PathEscape(ip) + "?fields=status,message,country,countryCode,city"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("lookup rejected: %s", body.Message)
	}

	return &Location{City: body.City, Country: body.Country, CountryCode: body.CountryCode}, nil
}

// IsPublic reports whether ip is routable on the public internet.
func IsPublic(ip net.IP) bool {
	return !(ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified())
}
