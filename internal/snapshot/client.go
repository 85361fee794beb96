package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"valnode/internal/ledger"
	"valnode/internal/logging"
	"valnode/internal/types"
)

// Client fast-forwards a ledger from a trusted snapshot host before any peer
// connection is made. The host serves /latest/height and /block/{height}.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
}

func NewClient(baseURL string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Sync advances the ledger block by block until it reaches the snapshot
// host's reported height. A failure leaves the ledger at its last validated
// height and is fatal to node construction per the startup contract.
func (c *Client) Sync(ctx context.Context, l *ledger.Ledger) error {
	target, err := c.latestHeight(ctx)
	if err != nil {
		return fmt.Errorf("query snapshot height: %w", err)
	}
	start := l.LatestHeight()
	if target <= start {
		c.logger.Infof("Ledger already at snapshot height height=%d", start)
		return nil
	}
	c.logger.Infof("Syncing ledger from snapshot from=%d to=%d url=%s", start, target, c.baseURL)

	for h := start + 1; h <= target; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := c.fetchBlock(ctx, h)
		if err != nil {
			return fmt.Errorf("fetch snapshot block %d: %w", h, err)
		}
		if err := l.AdvanceToNextBlock(b); err != nil {
			return fmt.Errorf("apply snapshot block %d: %w", h, err)
		}
	}
	c.logger.Infof("Snapshot sync complete height=%d", l.LatestHeight())
	return nil
}

func (c *Client) latestHeight(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/latest/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var height uint64
	if err := json.NewDecoder(resp.Body).Decode(&height); err != nil {
		return 0, fmt.Errorf("decode height: %w", err)
	}
	return height, nil
}

func (c *Client) fetchBlock(ctx context.Context, height uint64) (*types.Block, error) {
	url := fmt.Sprintf("%s/block/%d", c.baseURL, height)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var b types.Block
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &b, nil
}
