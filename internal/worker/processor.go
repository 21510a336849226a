package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"copyforge.app/pipeline/common"
	"copyforge.app/pipeline/common/id"
	"copyforge.app/pipeline/common/logger"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
	"copyforge.app/pipeline/internal/queue"
	"copyforge.app/pipeline/internal/service"
	"copyforge.app/pipeline/internal/store"
)

// ErrFatal wraps failures that a retry cannot fix. The worker sends
// these straight to the DLQ instead of requeueing.
var ErrFatal = errors.New("fatal")

// Processor executes one pipeline run end to end: claim the run,
// mirror the user cancel flag into a token, generate the article,
// persist the outcome.
type Processor struct {
	stores     *store.Stores
	generator  *service.Generator
	cancelFlag *service.CancelFlag
}

func NewProcessor(stores *store.Stores, generator *service.Generator, cancelFlag *service.CancelFlag) *Processor {
	return &Processor{
		stores:     stores,
		generator:  generator,
		cancelFlag: cancelFlag,
	}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     &msg.RunID,
		Component: "pipeline.worker.processor",
	})

	run, err := p.stores.Runs().ClaimQueued(ctx, msg.RunID, int32(msg.Attempt))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already finished or cancelled before reaching a worker.
			slog.InfoContext(ctx, "run not claimable, skipping")
			return nil
		}
		return fmt.Errorf("claiming run: %w", err)
	}

	var req model.AnalysisRequest
	if err := json.Unmarshal(run.Request, &req); err != nil {
		p.finishFailed(ctx, run.ID, "malformed request payload")
		return fmt.Errorf("%w: unmarshal request: %v", ErrFatal, err)
	}

	token := brain.NewCancelToken()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go p.cancelFlag.Watch(watchCtx, run.ID, token)

	start := time.Now()
	article, err := p.generator.Generate(ctx, req, token)
	if err != nil {
		p.finishFailed(ctx, run.ID, err.Error())
		return fmt.Errorf("generating article: %w", err)
	}

	if article.Cancelled {
		if err := p.stores.Runs().MarkCancelled(ctx, run.ID, article.Cost.TotalCost); err != nil {
			return fmt.Errorf("marking run cancelled: %w", err)
		}
		_ = p.cancelFlag.Clear(ctx, run.ID)
		slog.InfoContext(ctx, "run cancelled",
			"cost_usd", article.Cost.TotalCost,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	slug, err := common.Slugify(article.Title, fmt.Sprintf("article-%d", run.ID))
	if err != nil {
		slug = fmt.Sprintf("article-%d", run.ID)
	}
	articleID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{ArticleID: &articleID})
	if err := p.stores.Articles().Create(ctx, &model.Article{
		ID:       articleID,
		RunID:    run.ID,
		Slug:     slug,
		Title:    article.Title,
		Markdown: article.Markdown,
		Visual:   article.Visual,
	}); err != nil {
		return fmt.Errorf("persisting article: %w", err)
	}

	if err := p.stores.Runs().MarkCompleted(ctx, run.ID, article.Cost.TotalCost); err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}

	slog.InfoContext(ctx, "run completed",
		"title", article.Title,
		"cost_usd", article.Cost.TotalCost,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) finishFailed(ctx context.Context, runID int64, errMsg string) {
	if err := p.stores.Runs().MarkFailed(ctx, runID, errMsg); err != nil {
		slog.ErrorContext(ctx, "failed to mark run failed", "error", err)
	}
}
