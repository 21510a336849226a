package model

import "time"

// Run statuses. A run always reaches a terminal state (completed,
// cancelled, or failed) — never hangs in an intermediate status.
const (
	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusCancelled  = "cancelled"
	RunStatusFailed     = "failed"
)

type PipelineRun struct {
	ID         int64      `json:"id"`
	Status     string     `json:"status"`
	Audience   Audience   `json:"audience"`
	Request    []byte     `json:"-"` // AnalysisRequest JSON as submitted
	Error      *string    `json:"error,omitempty"`
	CostTotal  float64    `json:"cost_total"`
	Attempt    int32      `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type Article struct {
	ID        int64       `json:"id"`
	RunID     int64       `json:"run_id"`
	Slug      string      `json:"slug"`
	Title     string      `json:"title"`
	Markdown  string      `json:"markdown"`
	Visual    VisualStyle `json:"visual_style"`
	CreatedAt time.Time   `json:"created_at"`
}
