package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"copyforge.app/pipeline/internal/brain"
)

const (
	cancelKeyTTL       = 24 * time.Hour
	cancelPollInterval = time.Second
)

func cancelKey(runID int64) string {
	return fmt.Sprintf("copyforge:cancel:%d", runID)
}

// CancelFlag carries user cancellation from the API to a worker that
// may live on another host. The worker mirrors the flag into an
// in-process token that the pipeline polls at stage boundaries.
type CancelFlag struct {
	client *redis.Client
}

func NewCancelFlag(client *redis.Client) *CancelFlag {
	return &CancelFlag{client: client}
}

func (f *CancelFlag) Set(ctx context.Context, runID int64) error {
	if err := f.client.Set(ctx, cancelKey(runID), "1", cancelKeyTTL).Err(); err != nil {
		return fmt.Errorf("setting cancel flag: %w", err)
	}
	return nil
}

func (f *CancelFlag) IsSet(ctx context.Context, runID int64) (bool, error) {
	n, err := f.client.Exists(ctx, cancelKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking cancel flag: %w", err)
	}
	return n > 0, nil
}

func (f *CancelFlag) Clear(ctx context.Context, runID int64) error {
	return f.client.Del(ctx, cancelKey(runID)).Err()
}

// Watch polls the flag until the context ends and trips the token once
// the flag appears. Poll errors are logged and retried; a flaky redis
// must not cancel a healthy run.
func (f *CancelFlag) Watch(ctx context.Context, runID int64, token *brain.CancelToken) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set, err := f.IsSet(ctx, runID)
			if err != nil {
				slog.DebugContext(ctx, "cancel flag poll failed", "run_id", runID, "error", err)
				continue
			}
			if set {
				slog.InfoContext(ctx, "cancel flag detected", "run_id", runID)
				token.Cancel()
				return
			}
		}
	}
}
