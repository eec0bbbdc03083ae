// Package intel provides URL threat-intelligence lookups for the
// phishing detector. Lookups are cached and degrade silently: an
// unreachable provider never fails or delays scoring.
package intel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	verdictMalicious = "1"
	verdictClean     = "0"
)

// Client looks up URLs against a threat-intel provider and a locally
// held phishing feed.
type Client struct {
	cfg        domain.IntelConfig
	cache      domain.Cache
	httpClient *http.Client

	mu   sync.RWMutex
	feed map[string]bool // blocked hosts from the phishing feed
}

// NewClient creates a threat-intel client. The cache is optional; with
// no cache every check goes to the provider.
func NewClient(cfg domain.IntelConfig, cache domain.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return &Client{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: timeout},
		feed:       make(map[string]bool),
	}
}

// CheckURL reports whether the URL is known-malicious and the source of
// the verdict ("feed", "provider", or "cache"). All failure modes
// return false: absence of intel is never treated as a detection.
func (c *Client) CheckURL(ctx context.Context, rawURL string) (bool, string) {
	if !c.cfg.Enabled {
		return false, ""
	}

	host := hostOf(rawURL)
	if host == "" {
		return false, ""
	}

	c.mu.RLock()
	inFeed := c.feed[host]
	c.mu.RUnlock()
	if inFeed {
		return true, "feed"
	}

	cacheKey := "intel:url:" + host
	if c.cache != nil {
		if val, err := c.cache.Get(ctx, cacheKey); err == nil && val != nil {
			return string(val) == verdictMalicious, "cache"
		}
	}

	malicious, err := c.lookup(ctx, rawURL)
	if err != nil {
		slog.Debug("intel lookup failed", "host", host, "error", err)
		return false, ""
	}

	if c.cache != nil {
		verdict, ttl := verdictClean, c.cfg.NegativeTTL
		if malicious {
			verdict, ttl = verdictMalicious, c.cfg.VerdictTTL
		}
		if ttl > 0 {
			_ = c.cache.Set(ctx, cacheKey, []byte(verdict), ttl)
		}
	}

	return malicious, "provider"
}

type lookupResponse struct {
	Malicious bool `json:"malicious"`
}

func (c *Client) lookup(ctx context.Context, rawURL string) (bool, error) {
	if c.cfg.LookupURL == "" {
		return false, fmt.Errorf("no lookup endpoint configured")
	}

	endpoint := c.cfg.LookupURL + "?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, c.cfg.MaxBodyBytes)
	var parsed lookupResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decode provider response: %w", err)
	}

	return parsed.Malicious, nil
}

// RefreshFeed downloads the phishing feed and replaces the in-memory
// host set. The feed is newline-separated hosts; comment lines start
// with '#'.
func (c *Client) RefreshFeed(ctx context.Context) error {
	if c.cfg.PhishFeedURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PhishFeedURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	next := make(map[string]bool)
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		next[strings.ToLower(line)] = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.feed = next
	c.mu.Unlock()

	slog.Info("phishing feed refreshed", "hosts", len(next))
	return nil
}

// Start runs periodic feed refreshes until the context is cancelled.
func (c *Client) Start(ctx context.Context) {
	if !c.cfg.Enabled || c.cfg.PhishFeedURL == "" {
		return
	}

	interval := c.cfg.FeedRefresh
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		if err := c.RefreshFeed(ctx); err != nil {
			slog.Warn("initial feed refresh failed", "error", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RefreshFeed(ctx); err != nil {
					slog.Warn("feed refresh failed", "error", err)
				}
			}
		}
	}()
}

// FeedSize returns the number of hosts in the loaded feed.
func (c *Client) FeedSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.feed)
}

// hostOf extracts the lower-cased host from a URL fragment as it
// appears in message text. Scheme-less forms like "www.example.com"
// are accepted.
func hostOf(rawURL string) string {
	candidate := rawURL
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
