package brain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/logger"
	"copyforge.app/pipeline/internal/model"
)

// stageCtx tags log output from one analysis stage.
func stageCtx(ctx context.Context, stage string) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(stage)})
}

// StageDelays stagger stage launches so backend load ramps instead of
// spiking. Structure is measured from product completion; the rest are
// measured from structure start.
type StageDelays struct {
	Structure time.Duration
	Visual    time.Duration
	Regional  time.Duration
	Keyword   time.Duration
}

func DefaultStageDelays() StageDelays {
	return StageDelays{
		Structure: 500 * time.Millisecond,
		Visual:    1 * time.Second,
		Regional:  2 * time.Second,
		Keyword:   3 * time.Second,
	}
}

type AnalysisResult struct {
	Analysis  model.ReferenceAnalysis
	Product   *model.ProductBrief
	Visual    model.VisualStyle
	Keywords  []model.KeywordActionPlan
	Regional  RegionalResult
	Cancelled bool
	Usage     llm.TokenUsage
	Cost      llm.CostBreakdown
}

// AnalysisCoordinator drives the staged analysis plan: product first,
// then structure, with visual, regional and keyword stages overlapping
// structure under their own launch delays. Per-stage failures degrade
// to empty partials inside each stage; the coordinator itself always
// reaches a terminal result.
type AnalysisCoordinator struct {
	product   *ProductParser
	structure *StructureAnalyzer
	visual    *VisualAnalyzer
	regional  *RegionalEngine
	keywords  *KeywordPlanner
	delays    StageDelays
}

func NewAnalysisCoordinator(
	product *ProductParser,
	structure *StructureAnalyzer,
	visual *VisualAnalyzer,
	regional *RegionalEngine,
	keywords *KeywordPlanner,
	delays StageDelays,
) *AnalysisCoordinator {
	return &AnalysisCoordinator{
		product:   product,
		structure: structure,
		visual:    visual,
		regional:  regional,
		keywords:  keywords,
		delays:    delays,
	}
}

// Run executes the full analysis plan. The cancel token is polled at
// every stage boundary; once set, remaining stages return empty
// partials and the result is marked cancelled. Regional replacements
// are merged into the analysis record only after both the structure
// and regional stages have settled.
func (c *AnalysisCoordinator) Run(ctx context.Context, req model.AnalysisRequest, cancel *CancelToken) AnalysisResult {
	result := AnalysisResult{
		Analysis: model.EmptyReferenceAnalysis(),
		Keywords: []model.KeywordActionPlan{},
		Regional: RegionalResult{
			Replacements: []model.RegionalReplacement{},
			Changes:      []model.TermChange{},
			Relevance:    100,
		},
	}
	if cancel.Cancelled() {
		result.Cancelled = true
		return result
	}

	started := time.Now()
	slog.InfoContext(ctx, "analysis started", "audience", req.Audience)

	productRes := c.product.Parse(stageCtx(ctx, "product"), req.ProductText, cancel)
	result.Product = productRes.Brief
	result.Usage = result.Usage.Add(productRes.Usage)
	result.Cost = result.Cost.Add(productRes.Cost)

	if sleepCtx(ctx, c.delays.Structure) != nil || cancel.Cancelled() {
		result.Cancelled = true
		return result
	}

	var (
		wg           sync.WaitGroup
		structureRes StructureResult
		visualRes    VisualResult
		regionalRes  RegionalResult
		keywordRes   KeywordPlanResult
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		structureRes = c.structure.Analyze(stageCtx(ctx, "structure"), req, cancel)
	}()
	go func() {
		defer wg.Done()
		if sleepCtx(ctx, c.delays.Visual) != nil || cancel.Cancelled() {
			return
		}
		visualRes = c.visual.Analyze(stageCtx(ctx, "visual"), req, cancel)
	}()
	go func() {
		defer wg.Done()
		regionalRes = RegionalResult{
			Replacements: []model.RegionalReplacement{},
			Changes:      []model.TermChange{},
			Relevance:    100,
		}
		if sleepCtx(ctx, c.delays.Regional) != nil || cancel.Cancelled() {
			return
		}
		regionalRes = c.regional.Ground(stageCtx(ctx, "regional"), req.SourceText, req.Audience, cancel)
	}()
	go func() {
		defer wg.Done()
		keywordRes = KeywordPlanResult{Plans: []model.KeywordActionPlan{}}
		if sleepCtx(ctx, c.delays.Keyword) != nil || cancel.Cancelled() {
			return
		}
		keywordRes = c.keywords.Plan(stageCtx(ctx, "keywords"), req.SourceText, req.Keywords, req.Audience, cancel)
	}()
	wg.Wait()

	// Join point: merge only after both structure and regional settled,
	// on the canonical record so downstream stages observe it.
	result.Analysis = structureRes.Analysis
	result.Analysis.RegionalReplacements = regionalRes.Replacements
	result.Visual = visualRes.Style
	result.Regional = regionalRes
	if keywordRes.Plans != nil {
		result.Keywords = keywordRes.Plans
	}

	result.Usage = result.Usage.
		Add(structureRes.Usage).
		Add(visualRes.Usage).
		Add(regionalRes.Usage).
		Add(keywordRes.Usage)
	result.Cost = result.Cost.
		Add(structureRes.Cost).
		Add(visualRes.Cost).
		Add(regionalRes.Cost).
		Add(keywordRes.Cost)

	result.Cancelled = cancel.Cancelled()

	slog.InfoContext(ctx, "analysis completed",
		"sections", len(result.Analysis.Sections),
		"keywords", len(result.Keywords),
		"cancelled", result.Cancelled,
		"cost_usd", result.Cost.TotalCost,
		"duration", time.Since(started).Round(time.Millisecond).String())

	return result
}
