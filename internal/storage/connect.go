package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
)

// ConnectOptions bounds the retry loop in Connect.
type ConnectOptions struct {
	MaxElapsed time.Duration // 0 means 30s
	MaxRetries uint64        // 0 means unlimited within MaxElapsed
}

// Connect calls NewMulti with exponential backoff. Unknown kinds fail
// immediately; connection errors from the backend factory are retried.
func Connect(ctx context.Context, cfg MultiConfig, opts ConnectOptions) (MultiRepository, error) {
	multiMu.RLock()
	_, known := multiFactories[cfg.Kind]
	multiMu.RUnlock()
	if !known {
		return NewMulti(ctx, cfg)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = opts.MaxElapsed
	if eb.MaxElapsedTime <= 0 {
		eb.MaxElapsedTime = 30 * time.Second
	}
	var b backoff.BackOff = eb
	if opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, opts.MaxRetries)
	}

	var repo MultiRepository
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := NewMulti(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		repo = r
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("storage: connect kind=%s attempts=%d: %w", cfg.Kind, attempt, err)
	}
	return repo, nil
}
