package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/models"
)

// Client fetches durable conversation snapshots over REST. A per-client
// rate limiter collapses concurrent refresh triggers so reconnect storms
// do not hammer the backend.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// Options configures a Client.
type Options struct {
	// BaseURL of the backend, e.g. "http://localhost:8871".
	BaseURL string
	// Timeout per fetch. Default 10s.
	Timeout time.Duration
	// FetchRPS/FetchBurst throttle snapshot fetches. Defaults 5/10.
	FetchRPS   float64
	FetchBurst int
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FetchRPS <= 0 {
		opts.FetchRPS = 5
	}
	if opts.FetchBurst <= 0 {
		opts.FetchBurst = 10
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.FetchRPS), opts.FetchBurst),
	}
}

// FetchTask returns the ordered durable turns of a conversation.
func (c *Client) FetchTask(ctx context.Context, id models.TaskID) (*models.Snapshot, error) {
	if id <= 0 {
		return nil, fmt.Errorf("fetch task: not a durable id: %s", id)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/tasks/%s", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch task %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch task %s: %s", id, res.Status)
	}
	var snap models.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode task %s snapshot: %w", id, err)
	}
	return &snap, nil
}
