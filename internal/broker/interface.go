// Package broker defines the upstream data provider contract and the raw
// record types it returns, plus resilience wrappers around any provider.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrNotConnected is returned by providers used before Connect or after Close.
var ErrNotConnected = errors.New("broker: provider not connected")

// DataProvider defines the interface for reading accounts and positions from a brokerage
type DataProvider interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error

	// Account operations
	GetAccountNumbers(ctx context.Context) ([]AccountNumber, error)
	GetAccount(ctx context.Context, hash string) (*AccountResponse, error)
}

// APIError represents an upstream error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsPermanentAPIError reports whether err is a 4xx API error other than 429.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerProvider wraps a DataProvider with circuit breaker functionality
type CircuitBreakerProvider struct {
	provider DataProvider
	breaker  *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerProvider implements DataProvider at compile time.
var _ DataProvider = (*CircuitBreakerProvider)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	provider DataProvider,
	fn func(DataProvider) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(provider) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings returns the settings used when none are configured.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// NewCircuitBreakerProvider creates a CircuitBreakerProvider with default settings
func NewCircuitBreakerProvider(provider DataProvider, logger logrus.FieldLogger) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, DefaultCircuitBreakerSettings(), logger)
}

// NewCircuitBreakerProviderWithSettings creates a CircuitBreakerProvider with custom settings
func NewCircuitBreakerProviderWithSettings(
	provider DataProvider,
	settings CircuitBreakerSettings,
	logger logrus.FieldLogger,
) *CircuitBreakerProvider {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerProvider) State() gobreaker.State {
	return c.breaker.State()
}

// Connect connects the wrapped provider. Lifecycle calls bypass the breaker.
func (c *CircuitBreakerProvider) Connect(ctx context.Context) error {
	return c.provider.Connect(ctx)
}

// Close closes the wrapped provider.
func (c *CircuitBreakerProvider) Close() error {
	return c.provider.Close()
}

// GetAccountNumbers wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) ([]AccountNumber, error) {
		return p.GetAccountNumbers(ctx)
	})
}

// GetAccount wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) GetAccount(ctx context.Context, hash string) (*AccountResponse, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p DataProvider) (*AccountResponse, error) {
		return p.GetAccount(ctx, hash)
	})
}
