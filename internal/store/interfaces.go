package store

import (
	"context"
	"errors"

	"copyforge.app/pipeline/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RunStore defines the contract for pipeline run data access
type RunStore interface {
	GetByID(ctx context.Context, id int64) (*model.PipelineRun, error)
	Create(ctx context.Context, run *model.PipelineRun) error
	// ClaimQueued atomically moves a queued run to processing. Returns
	// ErrNotFound when the run is absent or no longer claimable, so a
	// redelivered message cannot start a second execution.
	ClaimQueued(ctx context.Context, id int64, attempt int32) (*model.PipelineRun, error)
	MarkCompleted(ctx context.Context, id int64, costTotal float64) error
	MarkCancelled(ctx context.Context, id int64, costTotal float64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// ArticleStore defines the contract for article data access
type ArticleStore interface {
	GetByRunID(ctx context.Context, runID int64) (*model.Article, error)
	Create(ctx context.Context, article *model.Article) error
}
