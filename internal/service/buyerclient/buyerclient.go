// Package buyerclient issues the outbound PING and POST calls to a buyer's
// endpoint: per-call deadline, auth injection per the buyer's authConfig
// variant, JSON response parsing, and the POST retry policy.
package buyerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/domain/buyer"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// Status is the outcome of one outbound attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// PingResult is the buyer's answer to a PING.
type PingResult struct {
	Status         Status
	Accepted       bool
	BidAmount      *money.Money
	Reason         string
	HTTPStatus     int
	ResponseTimeMs int64
	Body           []byte
	Err            error
}

// PostResult is the buyer's answer to a POST.
type PostResult struct {
	Status         Status
	Accepted       bool
	ExternalLeadID string
	Reason         string
	HTTPStatus     int
	ResponseTimeMs int64
	Body           []byte
	Attempts       int
	Err            error
}

var postBackoff = []time.Duration{500 * time.Millisecond, 2000 * time.Millisecond}

// Client issues PING/POST calls over plain net/http -- no ecosystem HTTP
// client in the retrieval pack fits a per-call-deadline JSON POST any
// better than the standard library's.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	backoff    []time.Duration
}

// New constructs a Client. backoff overrides the default POST retry delays
// when non-nil (wired from AuctionConfig.PostBackoff).
func New(logger *zap.Logger, backoff []time.Duration) *Client {
	if backoff == nil {
		backoff = postBackoff
	}
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
		backoff:    backoff,
	}
}

type pingResponseBody struct {
	Accepted  bool        `json:"accepted"`
	BidAmount interface{} `json:"bidAmount"`
	Reason    string      `json:"reason"`
}

type postResponseBody struct {
	Accepted       bool   `json:"accepted"`
	ExternalLeadID string `json:"externalLeadId"`
	Reason         string `json:"reason"`
}

// Ping issues a single-shot PING -- never retried, the whole auction is
// time-bounded.
func (c *Client) Ping(ctx context.Context, b buyer.Buyer, payload []byte, timeoutMs int) PingResult {
	start := time.Now()
	status, httpStatus, body, err := c.do(ctx, b, payload, time.Duration(timeoutMs)*time.Millisecond)
	elapsed := time.Since(start).Milliseconds()

	result := PingResult{Status: status, HTTPStatus: httpStatus, Body: body, ResponseTimeMs: elapsed, Err: err}
	if status != StatusSuccess {
		return result
	}

	var parsed pingResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("malformed ping response: %w", err)
		return result
	}
	result.Accepted = parsed.Accepted
	result.Reason = parsed.Reason
	if parsed.Accepted && parsed.BidAmount != nil {
		bid, err := money.FromAny(parsed.BidAmount)
		if err == nil {
			result.BidAmount = &bid
		}
	}
	return result
}

// Post sends the POST with the retry policy: up to 2 additional attempts on
// TIMEOUT or HTTP 5xx with exponential backoff, no retry on 4xx.
func (c *Client) Post(ctx context.Context, b buyer.Buyer, payload []byte, timeoutMs, maxAttempts int) PostResult {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	start := time.Now()

	var last PostResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, httpStatus, body, err := c.do(ctx, b, payload, time.Duration(timeoutMs)*time.Millisecond)
		last = PostResult{Status: status, HTTPStatus: httpStatus, Body: body, Attempts: attempt, Err: err}

		if status == StatusSuccess {
			var parsed postResponseBody
			if err := json.Unmarshal(body, &parsed); err != nil {
				last.Status = StatusFailed
				last.Err = fmt.Errorf("malformed post response: %w", err)
			} else {
				last.Accepted = parsed.Accepted
				last.ExternalLeadID = parsed.ExternalLeadID
				last.Reason = parsed.Reason
			}
			last.ResponseTimeMs = time.Since(start).Milliseconds()
			return last
		}

		retryable := status == StatusTimeout || (httpStatus >= 500 && httpStatus < 600)
		if !retryable || attempt == maxAttempts {
			break
		}

		delay := c.backoffFor(attempt)
		c.logger.Warn("retrying buyer post",
			zap.String("buyer", b.Name), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			last.Status = StatusTimeout
			last.ResponseTimeMs = time.Since(start).Milliseconds()
			return last
		case <-time.After(delay):
		}
	}

	last.ResponseTimeMs = time.Since(start).Milliseconds()
	return last
}

func (c *Client) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}
	return c.backoff[idx]
}

// do performs the raw HTTP round trip shared by Ping and Post, returning a
// Status/httpStatus/body triple that never panics or returns a bare
// transport error to the caller.
func (c *Client) do(ctx context.Context, b buyer.Buyer, payload []byte, timeout time.Duration) (Status, int, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.APIURL, bytes.NewReader(payload))
	if err != nil {
		return StatusFailed, 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, b.Auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return StatusTimeout, 0, nil, err
		}
		return StatusFailed, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusFailed, resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusSuccess, resp.StatusCode, body, nil
	}
	return StatusFailed, resp.StatusCode, body, fmt.Errorf("buyer responded %d", resp.StatusCode)
}

// applyAuth pattern-matches on the buyer's authConfig variant and injects
// the corresponding header(s).
func applyAuth(req *http.Request, auth buyer.AuthConfig) {
	switch auth.Kind {
	case buyer.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case buyer.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	case buyer.AuthCustom:
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}
