// internal/atlas/client.go
package atlas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrAtlasUnavailable indicates every base URL in the chain failed to answer
var ErrAtlasUnavailable = errors.New("all atlas endpoints unavailable")

// ProbeStatus is the latest state of one probe in a status check.
// Last and LastPacketLoss are null for probes that have not reported.
type ProbeStatus struct {
	Alert          bool     `json:"alert"`
	Last           *float64 `json:"last"`
	LastPacketLoss *float64 `json:"last_packet_loss"`
	Source         string   `json:"source,omitempty"`
}

// StatusCheck is the body of a measurement status-check request
type StatusCheck struct {
	GlobalAlert bool                   `json:"global_alert"`
	TotalAlerts int                    `json:"total_alerts"`
	Probes      map[string]ProbeStatus `json:"probes"`
}

// Client fetches measurement status checks, falling back across base URLs
type Client struct {
	baseURLs []string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a client for the given fallback chain of API base URLs
func NewClient(baseURLs []string, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURLs: baseURLs,
		apiKey:   apiKey,
		logger:   logger,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

// StatusCheck fetches the status check of measurement msmID.
// Tries each base URL in order; returns ErrAtlasUnavailable only if ALL fail.
func (c *Client) StatusCheck(ctx context.Context, msmID int) (*StatusCheck, error) {
	if len(c.baseURLs) == 0 {
		return nil, errors.New("no atlas base URLs configured")
	}

	var lastErr error
	for i, base := range c.baseURLs {
		sc, err := c.tryBase(ctx, base, msmID)
		if err == nil {
			if i > 0 {
				c.logger.Info("atlas fallback succeeded", "base_url", base, "failures", i)
			}
			return sc, nil
		}

		lastErr = err
		if isUnavailableErr(err) {
			c.logger.Warn("atlas endpoint unavailable, trying next", "base_url", base, "error", err)
			continue
		}

		// Not an availability problem (bad measurement id, bad JSON) - don't try fallback
		return nil, err
	}

	return nil, fmt.Errorf("%w: %v", ErrAtlasUnavailable, lastErr)
}

func (c *Client) tryBase(ctx context.Context, base string, msmID int) (*StatusCheck, error) {
	url := fmt.Sprintf("%s/measurements/%d/status-check/", strings.TrimSuffix(base, "/"), msmID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connection failed: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sc StatusCheck
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode status check: %w", err)
	}
	return &sc, nil
}

// isUnavailableErr checks if an error indicates a transient availability issue
func isUnavailableErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "HTTP 502") ||
		strings.Contains(s, "HTTP 503") ||
		strings.Contains(s, "HTTP 504")
}

// IsUnavailable checks if the error indicates all atlas endpoints are down
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrAtlasUnavailable)
}
