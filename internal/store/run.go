package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"copyforge.app/pipeline/core/db"
	"copyforge.app/pipeline/internal/model"
)

type runStore struct {
	db *db.DB
}

func newRunStore(database *db.DB) RunStore {
	return &runStore{db: database}
}

const runColumns = `id, status, audience, request, error, cost_total, attempt, started_at, finished_at`

func (s *runStore) GetByID(ctx context.Context, id int64) (*model.PipelineRun, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)
	return scanRun(row)
}

func (s *runStore) Create(ctx context.Context, run *model.PipelineRun) error {
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, audience, request, attempt, started_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		run.ID, run.Status, run.Audience, run.Request, run.Attempt)
	return err
}

func (s *runStore) ClaimQueued(ctx context.Context, id int64, attempt int32) (*model.PipelineRun, error) {
	row := s.db.Pool().QueryRow(ctx,
		`UPDATE pipeline_runs
		 SET status = $2, attempt = $3, error = NULL
		 WHERE id = $1 AND status IN ($4, $2)
		 RETURNING `+runColumns,
		id, model.RunStatusProcessing, attempt, model.RunStatusQueued)
	return scanRun(row)
}

func (s *runStore) MarkCompleted(ctx context.Context, id int64, costTotal float64) error {
	return s.finish(ctx, id, model.RunStatusCompleted, costTotal, nil)
}

func (s *runStore) MarkCancelled(ctx context.Context, id int64, costTotal float64) error {
	return s.finish(ctx, id, model.RunStatusCancelled, costTotal, nil)
}

func (s *runStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.finish(ctx, id, model.RunStatusFailed, 0, &errMsg)
}

func (s *runStore) finish(ctx context.Context, id int64, status string, costTotal float64, errMsg *string) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $2, cost_total = $3, error = $4, finished_at = now()
		 WHERE id = $1`,
		id, status, costTotal, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*model.PipelineRun, error) {
	var run model.PipelineRun
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Audience,
		&run.Request,
		&run.Error,
		&run.CostTotal,
		&run.Attempt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}
