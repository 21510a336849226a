package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/text"
	"copyforge.app/pipeline/internal/model"
)

// KeywordPlannerConfig bounds the fan-out. Concurrency exists to avoid
// tripping backend rate limits — a deliberate throughput/latency trade,
// not an incidental detail.
type KeywordPlannerConfig struct {
	TopN        int
	BatchSize   int
	Concurrency int
	Stagger     time.Duration
}

func DefaultKeywordPlannerConfig() KeywordPlannerConfig {
	return KeywordPlannerConfig{
		TopN:        30,
		BatchSize:   10,
		Concurrency: 2,
		Stagger:     1200 * time.Millisecond,
	}
}

type keywordPlanItem struct {
	Word          string   `json:"word" jsonschema_description:"The keyword, exactly as given"`
	UsageRules    []string `json:"usage_rules" jsonschema_description:"Ordered rules for deploying this keyword in the article"`
	SentenceStart bool     `json:"sentence_start" jsonschema_description:"Keyword works at sentence start"`
	SentenceEnd   bool     `json:"sentence_end" jsonschema_description:"Keyword works at sentence end"`
	AsPrefix      bool     `json:"as_prefix" jsonschema_description:"Keyword works as a modifier prefix"`
	AsSuffix      bool     `json:"as_suffix" jsonschema_description:"Keyword works as a modifier suffix"`
}

type keywordBatchResponse struct {
	Plans []keywordPlanItem `json:"plans" jsonschema_description:"One action plan per input keyword"`
}

var keywordBatchSchema = llm.GenerateSchema[keywordBatchResponse]()

type KeywordPlanResult struct {
	Plans []model.KeywordActionPlan
	Usage llm.TokenUsage
	Cost  llm.CostBreakdown
}

// KeywordPlanner partitions extracted keywords into fixed-size batches
// and runs them through the gateway under a bounded, staggered pool.
type KeywordPlanner struct {
	llm llm.Client
	cfg KeywordPlannerConfig
}

func NewKeywordPlanner(client llm.Client, cfg KeywordPlannerConfig) *KeywordPlanner {
	def := DefaultKeywordPlannerConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &KeywordPlanner{llm: client, cfg: cfg}
}

// Plan produces a deduplicated keyword action plan. A failed batch
// contributes an empty result and zero cost; sibling batches are
// unaffected — there is no global abort.
func (p *KeywordPlanner) Plan(ctx context.Context, sourceText string, keywords []string, audience model.Audience, cancel *CancelToken) KeywordPlanResult {
	deduped := DedupeKeywords(keywords)
	if len(deduped) > p.cfg.TopN {
		deduped = deduped[:p.cfg.TopN]
	}
	batches := BatchKeywords(deduped, p.cfg.BatchSize)
	if len(batches) == 0 {
		return KeywordPlanResult{Plans: []model.KeywordActionPlan{}}
	}

	slog.InfoContext(ctx, "keyword planning started",
		"keywords", len(deduped),
		"batches", len(batches),
		"concurrency", p.cfg.Concurrency)

	results := make([][]keywordPlanItem, len(batches))
	var mu sync.Mutex
	var usage llm.TokenUsage

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			// Staggered starts keep bursts under the pool size at any
			// instant, so backend load ramps instead of spiking.
			if p.cfg.Stagger > 0 && i > 0 {
				sleepCtx(gctx, p.cfg.Stagger*time.Duration(i))
			}
			if cancel.Cancelled() || gctx.Err() != nil {
				return nil
			}

			items, batchUsage, err := p.planBatch(gctx, sourceText, batch, audience)
			if err != nil {
				slog.WarnContext(gctx, "keyword batch failed, contributing empty result",
					"batch", i,
					"size", len(batch),
					"error", err)
				return nil
			}
			mu.Lock()
			results[i] = items
			usage = usage.Add(batchUsage)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // batch errors are swallowed above

	plans := p.merge(results, sourceText)

	slog.InfoContext(ctx, "keyword planning completed",
		"plans", len(plans),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)

	return KeywordPlanResult{
		Plans: plans,
		Usage: usage,
		Cost:  llm.Cost(usage, p.llm.Model()),
	}
}

func (p *KeywordPlanner) planBatch(ctx context.Context, sourceText string, batch []string, audience model.Audience) ([]keywordPlanItem, llm.TokenUsage, error) {
	region := RegionFor(audience)

	var sb strings.Builder
	sb.WriteString("## Keywords\n")
	for _, k := range batch {
		fmt.Fprintf(&sb, "- %s\n", k)
	}
	fmt.Fprintf(&sb, "\n## Audience\n%s\n%s\n", region.RegionName, region.Language)
	if sourceText != "" {
		sb.WriteString("\n## Source excerpt\n")
		sb.WriteString(text.TruncateTokens(sourceText, 2000))
		sb.WriteString("\n")
	}

	var response keywordBatchResponse
	resp, err := p.llm.Chat(ctx, llm.Request{
		SystemPrompt: keywordPlanSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "keyword_batch",
		Schema:       keywordBatchSchema,
		Temperature:  llm.Temp(0.2),
	}, &response)
	if err != nil {
		return nil, llm.TokenUsage{}, err
	}
	return response.Plans, resp.Usage, nil
}

// merge concatenates batch results in batch order, dedupes by lowercased
// word (first occurrence wins), and attaches locally computed snippets.
// Snippets come from keyword-anchored windowing over the source text —
// the model never produces them.
func (p *KeywordPlanner) merge(results [][]keywordPlanItem, sourceText string) []model.KeywordActionPlan {
	seen := make(map[string]bool)
	plans := []model.KeywordActionPlan{}
	snippetOpts := text.DefaultSnippetOptions()

	for _, items := range results {
		for _, item := range items {
			key := strings.ToLower(strings.TrimSpace(item.Word))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			plans = append(plans, model.KeywordActionPlan{
				Word:          item.Word,
				UsageRules:    item.UsageRules,
				Snippets:      text.Snippets(sourceText, item.Word, snippetOpts),
				SentenceStart: item.SentenceStart,
				SentenceEnd:   item.SentenceEnd,
				AsPrefix:      item.AsPrefix,
				AsSuffix:      item.AsSuffix,
			})
		}
	}
	return plans
}

// DedupeKeywords removes case-insensitive duplicates, keeping first
// occurrence order.
func DedupeKeywords(keywords []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, k := range keywords {
		trimmed := strings.TrimSpace(k)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}

// BatchKeywords partitions keywords into fixed-size batches: ceil(N/B)
// batches for N keywords with batch size B.
func BatchKeywords(keywords []string, size int) [][]string {
	if size <= 0 || len(keywords) == 0 {
		return nil
	}
	var batches [][]string
	for start := 0; start < len(keywords); start += size {
		end := start + size
		if end > len(keywords) {
			end = len(keywords)
		}
		batches = append(batches, keywords[start:end])
	}
	return batches
}

// sleepCtx sleeps for d or until the context is done, whichever is
// first, returning the context error when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const keywordPlanSystemPrompt = `You plan how SEO keywords should be deployed in a rewritten article.

For EVERY input keyword, return one action plan:
- usage_rules: 1-3 ordered, concrete rules for natural placement (density, sections, phrasing)
- position flags: whether the keyword reads naturally at sentence start/end or as a prefix/suffix modifier

Keep the keyword text exactly as given. Never invent keywords that were not in the input. Do not write example sentences — placement examples are derived from the source text separately.`
