// Package scoring implements the rate-limited, retry-aware client for the
// external agent endpoint that scores page relevance and currency.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
	"github.com/mkarlsen/wikiharvest/internal/metrics"
)

// ErrPermanent marks request failures that must not be retried: rejected
// authentication, unknown agent, malformed request.
var ErrPermanent = errors.New("permanent scoring request failure")

// Config controls the scoring client.
type Config struct {
	BaseURL           string
	AgentID           string
	APIKey            string
	MinInterval       time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxContentChars   int
	RequestTimeout    time.Duration
}

// queryRequest is the wire shape of one single-turn conversation.
type queryRequest struct {
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type queryResponse struct {
	Message message `json:"message"`
}

// Client scores page records against the external agent endpoint. It
// enforces a minimum interval between consecutive outbound requests and
// retries transient failures with exponential backoff.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a Client. Metrics may be nil.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.AgentID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("scoring base URL, agent id, and API key are required")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		sleep:   sleepContext,
		metrics: m,
		logger:  logger,
	}, nil
}

// Score submits one page record as a single-turn conversation and returns
// the parsed scores. Transient failures (429, 5xx, transport errors) are
// retried up to the attempt budget; permanent failures return immediately.
func (c *Client) Score(ctx context.Context, record crawler.PageRecord) (ScoreResult, error) {
	prompt := BuildPrompt(record, c.cfg.MaxContentChars)
	payload, err := json.Marshal(queryRequest{
		Messages: []message{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("marshal query: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.ScoringRetries.Inc()
			}
			delay := c.backoff(attempt - 1)
			c.logger.Warn("Retrying scoring request",
				zap.String("id", record.ID), zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay), zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return ScoreResult{}, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return ScoreResult{}, fmt.Errorf("rate limit wait: %w", err)
		}

		reply, err := c.query(ctx, payload)
		switch {
		case err == nil:
			return parseScores(reply)
		case errors.Is(err, ErrPermanent) || errors.Is(err, ErrScoreUnavailable) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ScoreResult{}, err
		default:
			lastErr = err
		}
	}
	return ScoreResult{}, fmt.Errorf("scoring failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// backoff computes base × multiplier^attempt.
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffMultiplier, float64(attempt)))
}

// query performs one POST and classifies the outcome per status code.
func (c *Client) query(ctx context.Context, payload []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/agents/%s/query", c.cfg.BaseURL, c.cfg.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read scoring response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed queryResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("%w: malformed response envelope: %v", ErrScoreUnavailable, err)
		}
		return parsed.Message.Content, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: authentication rejected (401)", ErrPermanent)
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: agent not found (404)", ErrPermanent)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		c.logger.Error("Scoring request rejected as malformed",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", fmt.Errorf("%w: malformed request (422)", ErrPermanent)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("server error (%d)", resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: unexpected status %d", ErrPermanent, resp.StatusCode)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
