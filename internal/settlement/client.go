// Package settlement pushes final verdicts to the escrow service that
// releases stakes on-chain. Delivery is best-effort with retries; game
// state is already final by the time this runs.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/room"
)

type Client struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		timeout:  10 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verdictBody struct {
	RoomID       string  `json:"roomId"`
	MatchCode    string  `json:"matchCode,omitempty"`
	MatchAddress string  `json:"matchAddress,omitempty"`
	StakeTier    int     `json:"stakeTier"`
	StakeSOL     float64 `json:"stakeSol"`
	Winner       string  `json:"winner"`
	WinnerWallet string  `json:"winnerWallet,omitempty"`
	Reason       string  `json:"reason"`
	ReportedAt   int64   `json:"reportedAt"` // unix millis
}

// ReportResult posts the verdict to /results, retrying transient failures
// with exponential backoff.
func (c *Client) ReportResult(ctx context.Context, v *room.Verdict) error {
	body := verdictBody{
		RoomID:       v.RoomID,
		MatchCode:    v.MatchCode,
		MatchAddress: v.MatchAddress,
		StakeTier:    v.StakeTier,
		StakeSOL:     stakeFor(v.StakeTier),
		Winner:       string(v.Winner),
		WinnerWallet: v.WinnerWallet,
		Reason:       string(v.Reason),
		ReportedAt:   time.Now().UnixMilli(),
	}
	err := c.postJSON(ctx, "/results", body)
	if err != nil {
		obslog.L().Warn("settlement_report_failed",
			zap.String("room_id", v.RoomID),
			zap.Error(err),
		)
	}
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("escrow api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func stakeFor(tier int) float64 {
	return domain.StakeAmounts[tier]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
