package dto

import (
	"time"

	"copyforge.app/pipeline/internal/model"
)

type SubmitRunRequest struct {
	SourceText    string   `json:"source_text" binding:"required"`
	Audience      string   `json:"audience" binding:"required"`
	Keywords      []string `json:"keywords,omitempty"`
	ProductText   string   `json:"product_text,omitempty"`
	SampleOutline string   `json:"sample_outline,omitempty"`
	AuthorityText string   `json:"authority_text,omitempty"`
	BrandText     string   `json:"brand_text,omitempty"`
}

type SubmitRunResponse struct {
	RunID  int64  `json:"run_id"`
	Status string `json:"status"`
}

type RunStatusResponse struct {
	RunID      int64      `json:"run_id"`
	Status     string     `json:"status"`
	Audience   string     `json:"audience"`
	CostTotal  float64    `json:"cost_total"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type ArticleResponse struct {
	ArticleID int64             `json:"article_id"`
	RunID     int64             `json:"run_id"`
	Slug      string            `json:"slug"`
	Title     string            `json:"title"`
	Markdown  string            `json:"markdown"`
	Visual    model.VisualStyle `json:"visual_style"`
	CreatedAt time.Time         `json:"created_at"`
}
