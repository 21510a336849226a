package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"copyforge.app/pipeline/common/id"
	"copyforge.app/pipeline/internal/model"
	"copyforge.app/pipeline/internal/queue"
	"copyforge.app/pipeline/internal/store"
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrArticleNotReady  = errors.New("article not ready")
	ErrRunNotCancelable = errors.New("run already finished")
)

type RunService interface {
	Submit(ctx context.Context, req model.AnalysisRequest) (*model.PipelineRun, error)
	Get(ctx context.Context, runID int64) (*model.PipelineRun, error)
	Cancel(ctx context.Context, runID int64) error
	Article(ctx context.Context, runID int64) (*model.Article, error)
}

type runService struct {
	stores     *store.Stores
	producer   queue.Producer
	cancelFlag *CancelFlag
	logger     *slog.Logger
}

func NewRunService(stores *store.Stores, producer queue.Producer, cancelFlag *CancelFlag, logger *slog.Logger) RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &runService{
		stores:     stores,
		producer:   producer,
		cancelFlag: cancelFlag,
		logger:     logger,
	}
}

func (s *runService) Submit(ctx context.Context, req model.AnalysisRequest) (*model.PipelineRun, error) {
	if req.SourceText == "" {
		return nil, fmt.Errorf("source_text is required")
	}
	audience, err := model.ParseAudience(string(req.Audience))
	if err != nil {
		return nil, err
	}
	req.Audience = audience

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	run := &model.PipelineRun{
		ID:       id.New(),
		Status:   model.RunStatusQueued,
		Audience: audience,
		Request:  payload,
		Attempt:  1,
	}
	if err := s.stores.Runs().Create(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	if err := s.producer.Enqueue(ctx, queue.RunMessage{RunID: run.ID, Attempt: 1}); err != nil {
		return nil, fmt.Errorf("enqueueing run: %w", err)
	}

	s.logger.InfoContext(ctx, "run submitted", "run_id", run.ID, "audience", audience)
	return run, nil
}

func (s *runService) Get(ctx context.Context, runID int64) (*model.PipelineRun, error) {
	run, err := s.stores.Runs().GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *runService) Cancel(ctx context.Context, runID int64) error {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case model.RunStatusCompleted, model.RunStatusCancelled, model.RunStatusFailed:
		return ErrRunNotCancelable
	}

	if err := s.cancelFlag.Set(ctx, runID); err != nil {
		return err
	}

	// A still-queued run never reaches a worker, so finish it here.
	if run.Status == model.RunStatusQueued {
		if err := s.stores.Runs().MarkCancelled(ctx, runID, 0); err != nil {
			return fmt.Errorf("marking queued run cancelled: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "run cancellation requested", "run_id", runID, "status", run.Status)
	return nil
}

func (s *runService) Article(ctx context.Context, runID int64) (*model.Article, error) {
	article, err := s.stores.Articles().GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrArticleNotReady
		}
		return nil, err
	}
	return article, nil
}
