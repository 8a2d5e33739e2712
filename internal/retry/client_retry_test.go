package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
)

// --- Test helpers ---

type fakeProvider struct {
	callCount int32

	// if successAfterN > 0, return errTransient for attempts < N, then success
	successAfterN int
	errTransient  error
	errPermanent  error
	block         bool
}

func (f *fakeProvider) Connect(context.Context) error { return nil }
func (f *fakeProvider) Close() error                  { return nil }

func (f *fakeProvider) next(ctx context.Context) error {
	n := atomic.AddInt32(&f.callCount, 1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.successAfterN > 0 {
		if int(n) < f.successAfterN {
			if f.errTransient != nil {
				return f.errTransient
			}
			return errors.New("timeout")
		}
		return nil
	}
	return f.errPermanent
}

func (f *fakeProvider) GetAccountNumbers(ctx context.Context) ([]broker.AccountNumber, error) {
	if err := f.next(ctx); err != nil {
		return nil, err
	}
	return []broker.AccountNumber{{AccountNumber: "12345678", HashValue: "HASH1"}}, nil
}

func (f *fakeProvider) GetAccount(ctx context.Context, hash string) (*broker.AccountResponse, error) {
	if err := f.next(ctx); err != nil {
		return nil, err
	}
	return &broker.AccountResponse{SecuritiesAccount: broker.SecuritiesAccount{AccountNumber: "12345678"}}, nil
}

func (f *fakeProvider) calls() int { return int(atomic.LoadInt32(&f.callCount)) }

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     3 * time.Millisecond,
		Timeout:        250 * time.Millisecond,
	}
}

// makeClient builds a Client with a hook-backed logger.
func makeClient(t *testing.T, p broker.DataProvider, cfg Config) (*Client, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	return NewClient(p, logger, cfg), hook
}

// --- Tests ---

func TestNewClient_ConfigSanitizationAndDefaults(t *testing.T) {
	p := &fakeProvider{}
	c := NewClient(p, nil, Config{MaxRetries: -1})

	if c.provider == nil {
		t.Fatalf("expected provider to be set")
	}
	if c.logger == nil {
		t.Fatalf("expected logger to be non-nil (defaulted)")
	}
	if c.config != DefaultConfig {
		t.Fatalf("config not sanitized: got %+v want %+v", c.config, DefaultConfig)
	}

	c2 := NewClient(p, nil, Config{MaxRetries: 0, InitialBackoff: time.Second, MaxBackoff: time.Millisecond, Timeout: time.Second})
	if c2.config.MaxRetries != 0 {
		t.Fatalf("zero retries must be honored, got %d", c2.config.MaxRetries)
	}
	if c2.config.MaxBackoff != time.Second {
		t.Fatalf("MaxBackoff must not be below InitialBackoff, got %v", c2.config.MaxBackoff)
	}

	logger := logrus.New()
	c3 := NewClient(p, logger)
	if c3.logger != logger {
		t.Fatalf("expected provided logger to be used")
	}
}

func TestIsTransientError_Patterns(t *testing.T) {
	c, _ := makeClient(t, &fakeProvider{}, DefaultConfig)

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("request TIMEOUT while processing"), true},
		{"conn refused", errors.New("connection refused by target"), true},
		{"conn reset", errors.New("read: connection reset by peer"), true},
		{"temporary failure", errors.New("temporary failure in name resolution"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"503", errors.New("Service Unavailable (503)"), true},
		{"dns", errors.New("dns lookup failed"), true},
		{"non-transient", errors.New("validation failed"), false},
		{"empty string", errors.New(""), false},
		{"api 500", &broker.APIError{Status: 500, Body: "boom"}, true},
		{"api 429", &broker.APIError{Status: 429, Body: "slow down"}, true},
		{"api 404", &broker.APIError{Status: 404, Body: "account not found"}, false},
		{"wrapped api 401", fmt.Errorf("fetch: %w", &broker.APIError{Status: 401}), false},
		{"breaker open", fmt.Errorf("broker: %w", gobreaker.ErrOpenState), false},
		{"breaker half-open", gobreaker.ErrTooManyRequests, false},
		{"not connected", broker.ErrNotConnected, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("network call: %w", context.DeadlineExceeded), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.isTransientError(tc.err); got != tc.want {
				t.Fatalf("isTransientError(%v)=%v want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCalculateNextBackoff_GeneralBehavior(t *testing.T) {
	cfg := Config{
		MaxRetries:     2,
		InitialBackoff: 4 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Timeout:        1 * time.Second,
	}
	c, _ := makeClient(t, &fakeProvider{}, cfg)

	next := c.calculateNextBackoff(4 * time.Millisecond) // base = 6ms, jitter in [0, 1.5ms)
	if next < 6*time.Millisecond || next >= 7500*time.Microsecond {
		t.Fatalf("unexpected next backoff: got %v, expected [6ms,7.5ms)", next)
	}

	next2 := c.calculateNextBackoff(8 * time.Millisecond) // base=12ms -> capped at 10ms; jitter in [0, 2.5ms)
	if next2 < 10*time.Millisecond || next2 >= 12500*time.Microsecond {
		t.Fatalf("unexpected capped next backoff: got %v, expected [10ms,12.5ms)", next2)
	}

	if got := c.calculateNextBackoff(0); got != 0 {
		t.Fatalf("zero backoff expected to remain zero, got %v", got)
	}
}

func TestGetAccountNumbers_SucceedsFirstAttempt(t *testing.T) {
	p := &fakeProvider{}
	c, hook := makeClient(t, p, fastConfig(3))

	accounts, err := c.GetAccountNumbers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if p.calls() != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.calls())
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("expected no log entries on first-attempt success, got %d", len(hook.AllEntries()))
	}
}

func TestGetAccount_RetriesOnTransientAndThenSucceeds(t *testing.T) {
	p := &fakeProvider{successAfterN: 3, errTransient: &broker.APIError{Status: 503, Body: "unavailable"}}
	c, hook := makeClient(t, p, fastConfig(3))

	start := time.Now()
	resp, err := c.GetAccount(context.Background(), "HASH1")
	if err != nil {
		t.Fatalf("expected success after retries, got err: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected response after retries")
	}
	if p.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.calls())
	}
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Fatalf("expected some backoff elapsed, got %v", elapsed)
	}
	last := hook.LastEntry()
	if last == nil || !strings.Contains(last.Message, "succeeded after retry") {
		t.Fatalf("expected a recovery log entry, got %+v", last)
	}
}

func TestGetAccount_FailFastOnNonTransient(t *testing.T) {
	p := &fakeProvider{errPermanent: &broker.APIError{Status: 404, Body: "no such account"}}
	c, _ := makeClient(t, p, fastConfig(5))

	_, err := c.GetAccount(context.Background(), "HASH404")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !broker.IsPermanentAPIError(err) {
		t.Fatalf("expected wrapped permanent API error, got %v", err)
	}
	if p.calls() != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", p.calls())
	}
}

func TestGetAccount_DoesNotRetryOpenBreaker(t *testing.T) {
	p := &fakeProvider{errPermanent: gobreaker.ErrOpenState}
	c, _ := makeClient(t, p, fastConfig(5))

	_, err := c.GetAccount(context.Background(), "HASH1")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if p.calls() != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", p.calls())
	}
}

func TestGetAccountNumbers_ExhaustsRetries(t *testing.T) {
	p := &fakeProvider{successAfterN: 100}
	c, _ := makeClient(t, p, fastConfig(2))

	_, err := c.GetAccountNumbers(context.Background())
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
	if p.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.calls())
	}
}

func TestGetAccountNumbers_RespectsCanceledContext(t *testing.T) {
	p := &fakeProvider{}
	c, _ := makeClient(t, p, fastConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetAccountNumbers(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls() != 0 {
		t.Fatalf("expected no provider calls, got %d", p.calls())
	}
}

func TestGetAccount_TimeoutBoundsAllAttempts(t *testing.T) {
	p := &fakeProvider{block: true}
	cfg := fastConfig(3)
	cfg.Timeout = 20 * time.Millisecond
	c, _ := makeClient(t, p, cfg)

	start := time.Now()
	_, err := c.GetAccount(context.Background(), "HASH1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	if p.calls() != 1 {
		t.Fatalf("a deadline error must not be retried, got %d calls", p.calls())
	}
}
