package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"registrar/internal/port"
	"registrar/internal/prediction"
)

// circuitState tracks rate-limit backoff for a single backend.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (c *circuitState) isOpenWithReset(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetAt, !c.resetAt.IsZero() && now.Before(c.resetAt)
}

func (c *circuitState) open(resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = resetAt
}

// FallbackBackend tries backends in order, skipping those whose circuit is
// open after a rate limit. It implements port.Backend.
type FallbackBackend struct {
	backends []port.Backend
	circuits []*circuitState
	names    []string
	logger   *slog.Logger
}

// NewFallbackBackend creates a FallbackBackend from an ordered list of backends and their names.
func NewFallbackBackend(backends []port.Backend, names []string, logger *slog.Logger) *FallbackBackend {
	circuits := make([]*circuitState, len(backends))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	return &FallbackBackend{
		backends: backends,
		circuits: circuits,
		names:    names,
		logger:   logger,
	}
}

func (f *FallbackBackend) Invoke(ctx context.Context, schemaID string, inputs map[string]any) (*prediction.Prediction, error) {
	now := time.Now()
	var lastErr error
	allRateLimited := true
	var earliestReset time.Time

	for i, b := range f.backends {
		if resetAt, open := f.circuits[i].isOpenWithReset(now); open {
			f.logger.Info("backend.fallback.skip", "provider", f.names[i], "until", resetAt.Format(time.RFC3339))
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}

		out, err := b.Invoke(ctx, schemaID, inputs)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		f.logger.Warn("backend.fallback.failed", "provider", f.names[i], "schema", schemaID, "error", err)
		lastErr = err

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			resetAt := now.Add(rlErr.RetryAfter)
			f.circuits[i].open(resetAt)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
		} else {
			allRateLimited = false
		}
	}

	if lastErr == nil || allRateLimited {
		retryAfter := time.Until(earliestReset)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return nil, &Error{
			SchemaID: schemaID,
			Provider: "all",
			Err:      NewRateLimitError("all", fmt.Errorf("all backends rate limited"), int(retryAfter.Seconds())),
		}
	}

	return nil, fmt.Errorf("all backends failed: %w", lastErr)
}
