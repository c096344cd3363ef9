// Package livestatus asks the streaming platform whether a channel is live.
package livestatus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"shd/internal/apperrors"
	"shd/internal/structures"
)

const maxResponseBytes = 1 << 20

type Status struct {
	Live    bool
	Viewers int
}

type ClientInterface interface {
	Fetch(ctx context.Context, claimID string) (Status, error)
}

type Client struct {
	apiURL string
	http   *http.Client
}

type liveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Live        bool `json:"Live"`
		ViewerCount int  `json:"ViewerCount"`
	} `json:"data"`
}

func NewClient(conf *structures.Config) ClientInterface {
	timeout := conf.Poller.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		apiURL: conf.Poller.ApiURL,
		http:   &http.Client{Timeout: timeout},
	}
}

// Fetch queries the live endpoint for claimID. Every failure, including
// a timeout, is an ExternalAPI error.
func (c *Client) Fetch(ctx context.Context, claimID string) (Status, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return Status{}, apperrors.ExternalAPI("invalid live status url", err)
	}
	q := u.Query()
	q.Set("channel_claim_id", claimID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Status{}, apperrors.ExternalAPI("build live status request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, apperrors.ExternalAPI("live status request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Status{}, apperrors.ExternalAPI("read live status response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, apperrors.ExternalAPI(fmt.Sprintf("live status returned %d", resp.StatusCode), nil)
	}

	var out liveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Status{}, apperrors.ExternalAPI("decode live status response", err)
	}
	if !out.Success {
		return Status{}, apperrors.ExternalAPI("live status rejected: "+out.Error, nil)
	}
	return Status{Live: out.Data.Live, Viewers: max(out.Data.ViewerCount, 0)}, nil
}
