package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"hound/pkg/llm/llmerrors"
)

// RetryableClient wraps a Client with retry logic driven by the classified
// error taxonomy. Retry lives at this layer, not inside the provider clients.
type RetryableClient struct {
	client Client
}

// NewRetryableClient wraps a raw provider client with retry behavior.
func NewRetryableClient(client Client) *RetryableClient {
	return &RetryableClient{client: client}
}

// Complete implements Client. Each attempt's error is classified and the
// per-type retry config decides whether and how long to back off.
func (r *RetryableClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		classified := llmerrors.Classify(err)
		lastErr = classified

		cfg := classified.GetRetryConfig()
		if cfg.MaxRetries == 0 || attempt >= cfg.MaxRetries {
			break
		}

		delay := calculateDelay(&cfg, attempt+1)
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return Response{}, fmt.Errorf("llm request failed after retries: %w", lastErr)
}

// ModelName returns the wrapped client's model name.
func (r *RetryableClient) ModelName() string {
	return r.client.ModelName()
}

// calculateDelay computes the exponential backoff delay for the given attempt.
func calculateDelay(cfg *llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		jitterFactor := float64(2*(time.Now().UnixNano()%2) - 1)
		delay += time.Duration(float64(delay) * 0.1 * jitterFactor)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
