package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"copyforge.app/pipeline/internal/http/dto"
	"copyforge.app/pipeline/internal/model"
	"copyforge.app/pipeline/internal/service"
)

type RunHandler struct {
	service  service.RunService
	markdown goldmark.Markdown
}

func NewRunHandler(svc service.RunService) *RunHandler {
	return &RunHandler{
		service: svc,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.CJK),
		),
	}
}

func (h *RunHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid run submission", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.service.Submit(ctx, model.AnalysisRequest{
		SourceText:    req.SourceText,
		Audience:      model.Audience(req.Audience),
		Keywords:      req.Keywords,
		ProductText:   req.ProductText,
		SampleOutline: req.SampleOutline,
		AuthorityText: req.AuthorityText,
		BrandText:     req.BrandText,
	})
	if err != nil {
		slog.WarnContext(ctx, "run submission rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitRunResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

func (h *RunHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	run, err := h.service.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}

	c.JSON(http.StatusOK, dto.RunStatusResponse{
		RunID:      run.ID,
		Status:     run.Status,
		Audience:   string(run.Audience),
		CostTotal:  run.CostTotal,
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
}

func (h *RunHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	if err := h.service.Cancel(ctx, runID); err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, service.ErrRunNotCancelable):
			c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
		default:
			slog.ErrorContext(ctx, "failed to cancel run", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel run"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}

func (h *RunHandler) Article(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	article, err := h.fetchArticle(c, runID)
	if err != nil {
		return
	}

	c.JSON(http.StatusOK, dto.ArticleResponse{
		ArticleID: article.ID,
		RunID:     article.RunID,
		Slug:      article.Slug,
		Title:     article.Title,
		Markdown:  article.Markdown,
		Visual:    article.Visual,
		CreatedAt: article.CreatedAt,
	})
}

func (h *RunHandler) Preview(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	article, err := h.fetchArticle(c, runID)
	if err != nil {
		return
	}

	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(article.Markdown), &buf); err != nil {
		slog.ErrorContext(ctx, "markdown rendering failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render article"})
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *RunHandler) fetchArticle(c *gin.Context, runID int64) (*model.Article, error) {
	ctx := c.Request.Context()

	article, err := h.service.Article(ctx, runID)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotReady) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not ready"})
			return nil, err
		}
		slog.ErrorContext(ctx, "failed to fetch article", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch article"})
		return nil, err
	}
	return article, nil
}

func parseRunID(c *gin.Context) (int64, bool) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return 0, false
	}
	return runID, true
}
