package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"copyforge.app/pipeline/core/db"
	"copyforge.app/pipeline/internal/model"
)

type articleStore struct {
	db *db.DB
}

func newArticleStore(database *db.DB) ArticleStore {
	return &articleStore{db: database}
}

func (s *articleStore) GetByRunID(ctx context.Context, runID int64) (*model.Article, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT id, run_id, slug, title, markdown, visual_style, created_at
		 FROM articles WHERE run_id = $1`, runID)

	var a model.Article
	var visual []byte
	err := row.Scan(&a.ID, &a.RunID, &a.Slug, &a.Title, &a.Markdown, &visual, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(visual) > 0 {
		if err := json.Unmarshal(visual, &a.Visual); err != nil {
			return nil, fmt.Errorf("decoding visual style: %w", err)
		}
	}
	return &a, nil
}

func (s *articleStore) Create(ctx context.Context, article *model.Article) error {
	visual, err := json.Marshal(article.Visual)
	if err != nil {
		return fmt.Errorf("encoding visual style: %w", err)
	}
	// One article per run; a retried run replaces its previous output.
	_, err = s.db.Pool().Exec(ctx,
		`INSERT INTO articles (id, run_id, slug, title, markdown, visual_style, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (run_id) DO UPDATE
		 SET slug = EXCLUDED.slug, title = EXCLUDED.title, markdown = EXCLUDED.markdown,
		     visual_style = EXCLUDED.visual_style`,
		article.ID, article.RunID, article.Slug, article.Title, article.Markdown, visual)
	return err
}
