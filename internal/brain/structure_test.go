package brain_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

var _ = Describe("StructureAnalyzer", func() {
	var (
		mockLLM  *mockLLMClient
		analyzer *brain.StructureAnalyzer
		ctx      context.Context
		req      model.AnalysisRequest
	)

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		analyzer = brain.NewStructureAnalyzer(mockLLM)
		ctx = context.Background()
		req = model.AnalysisRequest{
			SourceText: "如何挑選吸塵器？本文整理了重點。",
			Audience:   model.AudienceTW,
		}
	})

	// analysisFlow answers voice/outline/narrative by schema name.
	analysisFlow := func(outline map[string]any, narrative map[string]any) func(context.Context, llm.Request, any) (*llm.Response, error) {
		return func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
			switch req.SchemaName {
			case "voice_analysis":
				respondJSON(result, map[string]any{
					"general_plan":        "problem then solution",
					"conversion_plan":     "soft CTA at the end",
					"brand_points":        []string{"十年保固"},
					"competitor_brands":   []string{"Dyson"},
					"competitor_products": []string{"V15"},
					"regional_voice":      "台灣用語",
					"human_voice":         "口語化",
				})
			case "outline":
				respondJSON(result, outline)
			case "narrative_analysis":
				respondJSON(result, narrative)
			default:
				return nil, fmt.Errorf("unexpected schema %q", req.SchemaName)
			}
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}
	}

	It("merges voice, outline, and narrative into one analysis", func() {
		mockLLM.chatFn = analysisFlow(
			map[string]any{
				"h1_title":   "吸塵器挑選指南",
				"intro_text": "開頭段落",
				"sections": []map[string]any{
					{"title": "目錄", "subheadings": []string{}},
					{"title": "吸力怎麼看", "subheadings": []string{"Pa 與 AW"}},
					{"title": "作者簡介", "exclude": true},
					{"title": "常見問題", "subheadings": []string{}},
				},
			},
			map[string]any{
				"sections": []map[string]any{
					{
						"title":          "吸力怎麼看",
						"narrative_plan": []string{"先定義單位", "再給選購門檻"},
						"logical_flow":   "由淺入深",
						"core_focus":     "吸力單位",
						"key_facts":      []string{"1 AW ≈ 10 Pa 不可直接換算"},
						"core_question":  "多少吸力才夠？",
						"difficulty":     "medium",
						"writing_mode":   "direct",
						"subsections": []map[string]any{
							{"title": "Pa 與 AW", "key_facts": []string{"AW 計入氣流量"}},
						},
					},
					{"title": "不存在的段落", "core_focus": "dropped"},
				},
			},
		)

		result := analyzer.Analyze(ctx, req, nil)

		// 目錄 is stoplisted, 作者簡介 is excluded, 前言 is injected first.
		Expect(mockLLM.calls()).To(Equal(3))
		Expect(result.Analysis.Sections).To(HaveLen(3))
		Expect(result.Analysis.Sections[0].Title).To(Equal("前言"))
		Expect(result.Analysis.Sections[1].Title).To(Equal("吸力怎麼看"))
		Expect(result.Analysis.Sections[2].Title).To(Equal("常見問題"))

		merged := result.Analysis.Sections[1]
		Expect(merged.KeyFacts).To(ConsistOf("1 AW ≈ 10 Pa 不可直接換算"))
		Expect(merged.Difficulty).To(Equal(model.DifficultyMedium))
		Expect(merged.Subsections).To(HaveLen(1))

		Expect(result.Analysis.H1Title).To(Equal("吸塵器挑選指南"))
		Expect(result.Analysis.IntroText).To(Equal("開頭段落"))
		Expect(result.Analysis.CompetitorBrands).To(ConsistOf("Dyson"))
		Expect(result.Usage).To(Equal(llm.TokenUsage{PromptTokens: 30, CompletionTokens: 15}))
	})

	It("drops an excluded section and keeps the rest in order", func() {
		mockLLM.chatFn = analysisFlow(
			map[string]any{
				"h1_title": "T",
				"sections": []map[string]any{
					{"title": "一"},
					{"title": "二"},
					{"title": "三", "exclude": true},
					{"title": "四"},
					{"title": "五"},
				},
			},
			map[string]any{"sections": []map[string]any{}},
		)

		result := analyzer.Analyze(ctx, req, nil)

		titles := make([]string, 0, len(result.Analysis.Sections))
		for _, s := range result.Analysis.Sections {
			titles = append(titles, s.Title)
		}
		Expect(titles).To(Equal([]string{"一", "二", "四", "五"}))
	})

	It("normalizes unknown difficulty and writing mode values", func() {
		mockLLM.chatFn = analysisFlow(
			map[string]any{
				"h1_title": "T",
				"sections": []map[string]any{{"title": "A"}},
			},
			map[string]any{
				"sections": []map[string]any{
					{"title": "A", "difficulty": "impossible", "writing_mode": "freestyle"},
				},
			},
		)

		result := analyzer.Analyze(ctx, req, nil)

		Expect(result.Analysis.Sections).To(HaveLen(1))
		Expect(result.Analysis.Sections[0].Difficulty).To(Equal(model.DifficultyUnclear))
		Expect(result.Analysis.Sections[0].WritingMode).To(Equal(model.WritingModeDirect))
	})

	It("skips the intro section when the outline has no intro text", func() {
		mockLLM.chatFn = analysisFlow(
			map[string]any{
				"h1_title": "T",
				"sections": []map[string]any{{"title": "A"}},
			},
			map[string]any{"sections": []map[string]any{}},
		)

		result := analyzer.Analyze(ctx, req, nil)

		Expect(result.Analysis.Sections).To(HaveLen(1))
		Expect(result.Analysis.Sections[0].Title).To(Equal("A"))
	})

	It("degrades to an empty analysis when outline extraction fails", func() {
		flow := analysisFlow(nil, nil)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			if req.SchemaName == "outline" {
				return nil, errors.New("model unavailable")
			}
			return flow(ctx, req, result)
		}

		result := analyzer.Analyze(ctx, req, nil)

		// Voice still lands; the structural half stays empty but valid.
		Expect(result.Analysis.Sections).NotTo(BeNil())
		Expect(result.Analysis.Sections).To(BeEmpty())
		Expect(result.Analysis.H1Title).To(BeEmpty())
		Expect(result.Analysis.GeneralPlan).To(Equal("problem then solution"))
	})

	It("keeps the outline skeleton when the deep pass fails", func() {
		flow := analysisFlow(
			map[string]any{
				"h1_title": "T",
				"sections": []map[string]any{{"title": "A", "subheadings": []string{"A1"}}},
			},
			nil,
		)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			if req.SchemaName == "narrative_analysis" {
				return nil, errors.New("model unavailable")
			}
			return flow(ctx, req, result)
		}

		result := analyzer.Analyze(ctx, req, nil)

		Expect(result.Analysis.Sections).To(HaveLen(1))
		Expect(result.Analysis.Sections[0].Subheadings).To(ConsistOf("A1"))
		Expect(result.Analysis.Sections[0].KeyFacts).To(BeEmpty())
	})

	It("returns immediately when already cancelled", func() {
		token := brain.NewCancelToken()
		token.Cancel()

		result := analyzer.Analyze(ctx, req, token)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Analysis.Sections).NotTo(BeNil())
		Expect(result.Analysis.Sections).To(BeEmpty())
	})
})
