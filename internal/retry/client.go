// Package retry wraps a broker.DataProvider with bounded exponential backoff
// for transient failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds one operation across all of its attempts.
	Timeout time.Duration
}

// DefaultConfig is used for any unset or invalid field.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries DataProvider reads. Connect and Close pass through untouched.
type Client struct {
	provider broker.DataProvider
	logger   logrus.FieldLogger
	config   Config
}

var _ broker.DataProvider = (*Client)(nil)

// NewClient wraps provider. Invalid config values fall back to DefaultConfig
// and a nil logger discards output.
func NewClient(provider broker.DataProvider, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = sanitize(config[0])
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Client{provider: provider, logger: logger, config: cfg}
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// Connect connects the wrapped provider.
func (c *Client) Connect(ctx context.Context) error {
	return c.provider.Connect(ctx)
}

// Close closes the wrapped provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// GetAccountNumbers lists accounts, retrying transient failures.
func (c *Client) GetAccountNumbers(ctx context.Context) ([]broker.AccountNumber, error) {
	return withRetry(ctx, c, "list accounts", func(ctx context.Context) ([]broker.AccountNumber, error) {
		return c.provider.GetAccountNumbers(ctx)
	})
}

// GetAccount fetches one account, retrying transient failures.
func (c *Client) GetAccount(ctx context.Context, hash string) (*broker.AccountResponse, error) {
	op := "fetch account " + broker.MaskAccountNumber(hash)
	return withRetry(ctx, c, op, func(ctx context.Context) (*broker.AccountResponse, error) {
		return c.provider.GetAccount(ctx, hash)
	})
}

func withRetry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}
		if opCtx.Err() != nil {
			return zero, fmt.Errorf("%s timed out after %v: %w", op, c.config.Timeout, opCtx.Err())
		}

		res, err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				c.logger.WithField("attempts", attempt+1).Infof("%s succeeded after retry", op)
			}
			return res, nil
		}

		lastErr = err
		log := c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"of":      c.config.MaxRetries + 1,
		})

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			log.Warnf("%s failed", op)
			break
		}

		log.WithField("backoff", backoff).Warnf("%s failed with transient error, retrying", op)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = c.calculateNextBackoff(backoff)
		case <-opCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
			}
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

// calculateNextBackoff grows the delay by 1.5x up to MaxBackoff and adds up
// to 25% jitter.
func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Debug("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"server error",
	"rate limit",
	"429", // HTTP 429 Too Many Requests
	"502", // HTTP 502 Bad Gateway
	"503", // HTTP 503 Service Unavailable
	"504", // HTTP 504 Gateway Timeout
	"network",
	"dns",
	"tcp",
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, broker.ErrNotConnected), broker.IsPermanentAPIError(err):
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
