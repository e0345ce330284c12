package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
	"github.com/Ruscigno/vprism/pkg/ratelimit"
	"github.com/Ruscigno/vprism/pkg/retry"
)

// ResilienceOptions configures the call policy around a provider.
type ResilienceOptions struct {
	Timeout       time.Duration
	Limiter       ratelimit.Limiter
	Retry         retry.RetryConfig
	Breaker       retry.CircuitBreakerConfig
	OnStateChange func(name string, from, to retry.CircuitBreakerState)
}

// OptionsFromConfig derives the call policy from the providers section.
func OptionsFromConfig(cfg config.ProvidersConfig, logger *zap.Logger) ResilienceOptions {
	return ResilienceOptions{
		Timeout: cfg.TimeoutDuration(),
		Limiter: ratelimit.PerMinute(cfg.RateLimit, logger),
		Retry:   retry.ProviderRetryConfig(cfg.MaxRetries, logger),
	}
}

// Resilient decorates a Provider with rate limiting, a call timeout,
// retries for failed fetches and a circuit breaker.
type Resilient struct {
	inner   Provider
	opts    ResilienceOptions
	breaker *retry.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient wraps p. Zero-valued options disable the matching policy,
// except the breaker which always uses at least the default thresholds.
func NewResilient(p Provider, opts ResilienceOptions, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.ProviderRetryConfig(0, logger)
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}
	opts.Retry.ShouldRetry = isTransient

	breakerCfg := opts.Breaker
	if breakerCfg.MaxFailures == 0 {
		breakerCfg = retry.DefaultCircuitBreakerConfig(p.Name())
	}
	breakerCfg.Name = p.Name()
	breakerCfg.IsFailure = isTransient
	breakerCfg.Logger = logger
	breakerCfg.OnStateChange = opts.OnStateChange

	return &Resilient{
		inner:   p,
		opts:    opts,
		breaker: retry.NewCircuitBreaker(breakerCfg),
		logger:  logger,
	}
}

func (r *Resilient) Name() string              { return r.inner.Name() }
func (r *Resilient) Info() models.ProviderInfo { return r.inner.Info() }

// BreakerState reports the circuit breaker state for health checks.
func (r *Resilient) BreakerState() retry.CircuitBreakerState { return r.breaker.State() }

// Fetch runs the wrapped provider under the configured policy.
func (r *Resilient) Fetch(ctx context.Context, query models.Query) ([]models.DataPoint, error) {
	name := r.inner.Name()
	points, err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) ([]models.DataPoint, error) {
		if err := r.opts.Limiter.Wait(ctx, name); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeRateLimit, name+": rate limit wait aborted")
		}

		points, err := retry.Execute(ctx, r.breaker, func(ctx context.Context) ([]models.DataPoint, error) {
			if r.opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
				defer cancel()
			}
			return r.inner.Fetch(ctx, query)
		})
		if errors.Is(err, retry.ErrCircuitOpen) {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeCircuitBreakerOpen, name+" is temporarily unavailable")
		}
		return points, err
	})
	if err != nil && apperrors.GetAppError(err) == nil && isContextError(err) {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, name+": request cancelled")
	}
	return points, err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isTransient marks errors worth retrying and counting against the breaker.
func isTransient(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeFetchFailed)
}
