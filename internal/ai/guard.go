package ai

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bizfin-insight/internal/pkg/logger"
)

type GuardConfig struct {
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
}

// Guard bounds every provider call: a shared rate limiter, a per-attempt
// timeout and a retry budget for rate-limited or unavailable upstreams.
type Guard struct {
	cfg     GuardConfig
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	g := &Guard{cfg: cfg, sleep: sleepCtx}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
	}
	return g
}

func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.run(ctx, op, g.cfg.MaxRetries, fn)
}

func (g *Guard) run(ctx context.Context, op string, retries int, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if g.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt >= retries || !IsRetryable(err) {
			return err
		}

		wait := g.backoff(attempt)
		logger.FromContext(ctx).Warn("provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (g *Guard) backoff(attempt int) time.Duration {
	d := g.cfg.BaseBackoff << attempt
	if d <= 0 || d > g.cfg.MaxBackoff {
		return g.cfg.MaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GuardedCompleter runs a Completer behind a Guard. Streams are not retried
// once started since chunks may already have reached the caller.
type GuardedCompleter struct {
	next  Completer
	guard *Guard
}

func NewGuardedCompleter(next Completer, guard *Guard) *GuardedCompleter {
	return &GuardedCompleter{next: next, guard: guard}
}

func (c *GuardedCompleter) Name() string { return c.next.Name() }

func (c *GuardedCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var out *CompletionResponse
	err := c.guard.Do(ctx, "complete", func(ctx context.Context) error {
		resp, err := c.next.Complete(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *GuardedCompleter) StreamComplete(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error) {
	var out *CompletionResponse
	err := c.guard.run(ctx, "stream", 0, func(ctx context.Context) error {
		resp, err := Stream(ctx, c.next, req, onChunk)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

type GuardedEmbedder struct {
	next  Embedder
	guard *Guard
}

func NewGuardedEmbedder(next Embedder, guard *Guard) *GuardedEmbedder {
	return &GuardedEmbedder{next: next, guard: guard}
}

func (e *GuardedEmbedder) Dimension() int    { return e.next.Dimension() }
func (e *GuardedEmbedder) ModelName() string { return e.next.ModelName() }

func (e *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		vec, err := e.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	return out, err
}
