package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("llm service unavailable")

type GuardConfig struct {
	Name              string
	RequestsPerMinute float64
	// How long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Guard wraps a model with a client-side rate limiter and a circuit breaker.
type Guard struct {
	next    llms.Model
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ llms.Model = (*Guard)(nil)

func NewGuard(next llms.Model, config GuardConfig) *Guard {
	if config.Name == "" {
		config.Name = "llm"
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 60 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm-guard", "name", config.Name)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     config.OpenTimeout,
		// A caller giving up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	burst := int(config.RequestsPerMinute / 10)
	if burst < 1 {
		burst = 1
	}

	return &Guard{
		next:    next,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60.0), burst),
		logger:  logger,
	}
}

func (g *Guard) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.GenerateContent(ctx, messages, options...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result.(*llms.ContentResponse), nil
}

func (g *Guard) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

// State reports the breaker state, e.g. for health checks.
func (g *Guard) State() string {
	return g.breaker.State().String()
}
