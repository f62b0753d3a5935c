// Package feed fetches one content item per call from a public JSON endpoint.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "memebot/pkg/logx"
)

const DefaultEndpoint = "https://meme-api.com/gimme/memes"

// Item is a single feed entry. URL is the only field the bot relies on.
type Item struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	PostLink  string `json:"postLink"`
	Subreddit string `json:"subreddit"`
	NSFW      bool   `json:"nsfw"`
}

// FetchError reports a failed or unusable feed response.
type FetchError struct {
	Endpoint string
	Status   int // 0 when no response was received
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed fetch %s: http=%d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("feed fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

// New builds a client. A nil httpClient uses a client bounded by cfg.Timeout.
func New(cfg Config, httpClient *http.Client, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "memebot/1.0"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: httpClient, log: log}
}

func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// FetchOne performs one GET and returns the decoded item. Every failure is a *FetchError.
func (c *Client) FetchOne(ctx context.Context) (Item, error) {
	fail := func(status int, err error) (Item, error) {
		return Item{}, &FetchError{Endpoint: c.cfg.Endpoint, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, http.NoBody)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	var it Item
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&it); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	it.URL = strings.TrimSpace(it.URL)
	if it.URL == "" {
		return fail(resp.StatusCode, fmt.Errorf("response has no url"))
	}
	u, err := url.Parse(it.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail(resp.StatusCode, fmt.Errorf("invalid item url %q", it.URL))
	}

	c.log.Debug("feed item fetched", logx.String("url", it.URL), logx.String("subreddit", it.Subreddit))
	return it, nil
}
