package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/core/config"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

type GeneratedArticle struct {
	Title     string
	Markdown  string
	Visual    model.VisualStyle
	Usage     llm.TokenUsage
	Cost      llm.CostBreakdown
	Cancelled bool
}

// Generator runs the full pipeline for one request: staged analysis,
// parallel section writing, then the localization passes (term
// replacement, heading refinement) and markdown assembly.
type Generator struct {
	coordinator *brain.AnalysisCoordinator
	sections    *brain.SectionGenerator
	headings    *brain.HeadingRefiner
	terms       *brain.TermReplacer
	factCap     int
}

func NewGenerator(client llm.Client, search brain.BrandSearcher, terms *brain.TermReplacer, cfg config.PipelineConfig) *Generator {
	delays := brain.StageDelays{
		Structure: time.Duration(cfg.StructureDelayMs) * time.Millisecond,
		Visual:    time.Duration(cfg.VisualDelayMs) * time.Millisecond,
		Regional:  time.Duration(cfg.RegionalDelayMs) * time.Millisecond,
		Keyword:   time.Duration(cfg.KeywordDelayMs) * time.Millisecond,
	}

	keywordCfg := brain.DefaultKeywordPlannerConfig()
	keywordCfg.TopN = cfg.KeywordTopN
	keywordCfg.BatchSize = cfg.KeywordBatchSize
	keywordCfg.Concurrency = cfg.KeywordConcurrency
	if cfg.KeywordStaggerMs > 0 {
		keywordCfg.Stagger = time.Duration(cfg.KeywordStaggerMs) * time.Millisecond
	}

	filter := brain.NewContextFilter(client, cfg.KnowledgeTokens)

	return &Generator{
		coordinator: brain.NewAnalysisCoordinator(
			brain.NewProductParser(client),
			brain.NewStructureAnalyzer(client),
			brain.NewVisualAnalyzer(client),
			brain.NewRegionalEngine(client, search),
			brain.NewKeywordPlanner(client, keywordCfg),
			delays,
		),
		sections: brain.NewSectionGenerator(client, filter, cfg.SectionConcurrency),
		headings: brain.NewHeadingRefiner(client),
		terms:    terms,
		factCap:  cfg.FactUsageCap,
	}
}

func (g *Generator) Generate(ctx context.Context, req model.AnalysisRequest, cancel *brain.CancelToken) (GeneratedArticle, error) {
	out := GeneratedArticle{}

	analysis := g.coordinator.Run(ctx, req, cancel)
	out.Usage = out.Usage.Add(analysis.Usage)
	out.Cost = out.Cost.Add(analysis.Cost)
	if analysis.Cancelled {
		out.Cancelled = true
		return out, nil
	}
	if len(analysis.Analysis.Sections) == 0 {
		return out, fmt.Errorf("analysis produced no sections")
	}
	out.Visual = analysis.Visual

	// Sections are written from the regionally grounded text when the
	// rewrite succeeded, so foreign entities are already swapped out of
	// the material the writer quotes from.
	sectionReq := req
	if analysis.Regional.Content != "" {
		sectionReq.SourceText = analysis.Regional.Content
	}

	history := brain.NewCoveredPointsHistory(g.factCap)
	generated := g.sections.Generate(ctx, brain.GenerateInput{
		Request:  sectionReq,
		Analysis: analysis.Analysis,
		Product:  analysis.Product,
		Keywords: analysis.Keywords,
	}, history, cancel)
	out.Usage = out.Usage.Add(generated.Usage)
	out.Cost = out.Cost.Add(generated.Cost)
	if cancel.Cancelled() {
		out.Cancelled = true
		return out, nil
	}

	// The intro was injected as the first planned section during
	// analysis, so the assembled article is title + sections only.
	sections := generated.Sections
	g.localizeTerms(ctx, sections)
	sections = g.refineHeadings(ctx, sections, req.Audience, cancel, &out)

	out.Title = articleTitle(analysis.Analysis, sections)
	out.Markdown = assembleMarkdown(out.Title, sections)
	out.Cancelled = cancel.Cancelled()
	return out, nil
}

// localizeTerms applies the term table to every section in place.
// Failures inside the replacer degrade to pass-through.
func (g *Generator) localizeTerms(ctx context.Context, sections []model.SectionResult) {
	if g.terms == nil {
		return
	}
	total := 0
	for i := range sections {
		replaced, changes := g.terms.Replace(ctx, sections[i].Body)
		sections[i].Body = replaced
		sections[i].Title, _ = g.terms.Replace(ctx, sections[i].Title)
		total += len(changes)
	}
	if total > 0 {
		slog.InfoContext(ctx, "term replacement applied", "distinct_terms", total)
	}
}

func (g *Generator) refineHeadings(ctx context.Context, sections []model.SectionResult, audience model.Audience, cancel *brain.CancelToken, out *GeneratedArticle) []model.SectionResult {
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	if len(titles) == 0 {
		return sections
	}

	result := g.headings.Refine(ctx, titles, audience, cancel)
	out.Usage = out.Usage.Add(result.Usage)
	out.Cost = out.Cost.Add(result.Cost)

	revised := make(map[string]model.HeadingRevision, len(result.Revisions))
	for _, rev := range result.Revisions {
		revised[rev.Original] = rev
	}
	manual := 0
	for i := range sections {
		rev, ok := revised[sections[i].Title]
		if !ok {
			continue
		}
		if rev.NeedsManual {
			manual++
			continue
		}
		sections[i].Title = rev.After
	}
	if manual > 0 {
		slog.InfoContext(ctx, "headings flagged for manual review", "count", manual)
	}
	return sections
}

func articleTitle(analysis model.ReferenceAnalysis, sections []model.SectionResult) string {
	if analysis.H1Title != "" {
		return analysis.H1Title
	}
	for _, s := range sections {
		if s.Title != "" {
			return s.Title
		}
	}
	return "Untitled"
}

// assembleMarkdown renders the final article. Failed sections keep
// their heading with an empty body; error text never appears.
func assembleMarkdown(title string, sections []model.SectionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", title)
	for _, s := range sections {
		if s.Title == "" && s.Body == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n", s.Title)
		if body := strings.TrimSpace(s.Body); body != "" {
			fmt.Fprintf(&sb, "\n%s\n", body)
		}
	}
	return sb.String()
}
