package brain_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

var _ = Describe("SectionGenerator", func() {
	var (
		mockLLM   *mockLLMClient
		generator *brain.SectionGenerator
		history   *brain.CoveredPointsHistory
		ctx       context.Context
	)

	newInput := func(titles ...string) brain.GenerateInput {
		analysis := model.EmptyReferenceAnalysis()
		for _, t := range titles {
			analysis.Sections = append(analysis.Sections, model.SectionPlan{
				Title:       t,
				Subheadings: []string{},
				KeyFacts:    []string{},
			})
		}
		return brain.GenerateInput{
			Request:  model.AnalysisRequest{SourceText: "reference", Audience: model.AudienceTW},
			Analysis: analysis,
		}
	}

	sectionBody := func(body string, usedFacts []string, mentions int) func(context.Context, llm.Request, any) (*llm.Response, error) {
		return func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
			respondJSON(result, map[string]any{
				"body":              body,
				"used_facts":        usedFacts,
				"injected_mentions": mentions,
			})
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}
	}

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		generator = brain.NewSectionGenerator(mockLLM, brain.NewContextFilter(mockLLM, 0), 1)
		history = brain.NewCoveredPointsHistory(2)
		ctx = context.Background()
	})

	It("produces one indexed result per planned section", func() {
		mockLLM.chatFn = sectionBody("段落內容", []string{"fact-1"}, 0)

		result := generator.Generate(ctx, newInput("前言", "吸力怎麼看", "常見問題"), history, nil)

		Expect(result.Sections).To(HaveLen(3))
		for i, s := range result.Sections {
			Expect(s.Index).To(Equal(i))
			Expect(s.Body).To(Equal("段落內容"))
			Expect(s.Failed).To(BeFalse())
		}
		Expect(result.Sections[1].Title).To(Equal("吸力怎麼看"))
		Expect(result.Usage).To(Equal(llm.TokenUsage{PromptTokens: 30, CompletionTokens: 15}))
	})

	It("records used facts in the shared history", func() {
		mockLLM.chatFn = sectionBody("內容", []string{"十年保固"}, 0)

		generator.Generate(ctx, newInput("A", "B"), history, nil)

		Expect(history.Count("十年保固")).To(Equal(2))
	})

	It("leaves only the failing section empty", func() {
		flow := sectionBody("內容", nil, 0)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			if strings.Contains(req.UserPrompt, "失敗段落") {
				return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 3}}, errors.New("model unavailable")
			}
			return flow(ctx, req, result)
		}

		result := generator.Generate(ctx, newInput("A", "失敗段落", "C"), history, nil)

		Expect(result.Sections[0].Body).To(Equal("內容"))
		Expect(result.Sections[1].Failed).To(BeTrue())
		Expect(result.Sections[1].Body).To(BeEmpty())
		Expect(result.Sections[2].Body).To(Equal("內容"))
		// Failed call's usage still counts.
		Expect(result.Usage.PromptTokens).To(Equal(23))
	})

	It("excludes capped facts from the section prompt", func() {
		history.Append([]string{"used up"})
		history.Append([]string{"used up"})

		var prompt string
		flow := sectionBody("內容", nil, 0)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			return flow(ctx, req, result)
		}

		in := newInput("A")
		in.Analysis.Sections[0].KeyFacts = []string{"used up", "fresh fact"}
		generator.Generate(ctx, in, history, nil)

		Expect(prompt).To(ContainSubstring("fresh fact"))
		Expect(prompt).NotTo(ContainSubstring("used up"))
	})

	It("carries regional substitutions into every section prompt", func() {
		var prompts []string
		flow := sectionBody("內容", nil, 0)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompts = append(prompts, req.UserPrompt)
			return flow(ctx, req, result)
		}

		in := newInput("在哪裡買", "常見問題")
		in.Request.SourceText = "You can find it at Walmart."
		in.Analysis.RegionalReplacements = []model.RegionalReplacement{
			{Original: "Walmart", Replacement: "全聯"},
			{Original: "Black Friday", Replacement: "", Reason: "no local equivalent"},
		}
		generator.Generate(ctx, in, history, nil)

		Expect(prompts).To(HaveLen(2))
		for _, p := range prompts {
			Expect(p).To(ContainSubstring("Write 全聯, never Walmart."))
			Expect(p).To(ContainSubstring("Do not mention Black Friday"))
		}
	})

	It("renders usage rules and snippets for kept keywords", func() {
		var prompt string
		flow := sectionBody("內容", nil, 0)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			return flow(ctx, req, result)
		}

		in := newInput("吸力怎麼看")
		in.Keywords = []model.KeywordActionPlan{
			{
				Word:       "吸塵器推薦",
				UsageRules: []string{"放在句首當主題句"},
				Snippets:   []string{"2024 吸塵器推薦清單整理"},
			},
		}
		generator.Generate(ctx, in, history, nil)

		Expect(prompt).To(ContainSubstring("- 吸塵器推薦"))
		Expect(prompt).To(ContainSubstring("放在句首當主題句"))
		Expect(prompt).To(ContainSubstring("原文用例: 2024 吸塵器推薦清單整理"))
	})

	Context("with a product brief", func() {
		var in brain.GenerateInput

		BeforeEach(func() {
			in = newInput("A", "B", "C")
			in.Product = &model.ProductBrief{
				BrandName:   "測試牌",
				ProductName: "旗艦吸塵器",
				USPs:        []string{"十年保固"},
				Mappings: []model.ProblemProductMapping{
					{Problem: "地毯吸不乾淨", Feature: "高扭矩吸頭"},
				},
			}
			in.Analysis.CompetitorBrands = []string{"Dyson"}
		})

		It("instructs a subject-swap rewrite for competitors", func() {
			var prompts []string
			flow := sectionBody("內容", nil, 0)
			mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				prompts = append(prompts, req.UserPrompt)
				return flow(ctx, req, result)
			}

			generator.Generate(ctx, in, history, nil)

			for _, p := range prompts {
				Expect(p).To(ContainSubstring("Never name these competitors: Dyson"))
				Expect(p).To(ContainSubstring(`"測試牌 旗艦吸塵器" at most once`))
			}
		})

		It("forces a mention in closing sections when the article is sparse", func() {
			var prompts []string
			flow := sectionBody("內容", nil, 0)
			mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				prompts = append(prompts, req.UserPrompt)
				return flow(ctx, req, result)
			}

			generator.Generate(ctx, in, history, nil)

			Expect(prompts).To(HaveLen(3))
			Expect(prompts[0]).NotTo(ContainSubstring("closing section"))
			Expect(prompts[1]).To(ContainSubstring("closing section"))
			Expect(prompts[2]).To(ContainSubstring("地毯吸不乾淨 → 高扭矩吸頭"))
		})

		It("skips the forced mention once prior sections injected enough", func() {
			var prompts []string
			flow := sectionBody("內容", nil, 3)
			mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				prompts = append(prompts, req.UserPrompt)
				return flow(ctx, req, result)
			}

			generator.Generate(ctx, in, history, nil)

			// Sections run one at a time here, so by the closing window the
			// running mention count is already past the threshold.
			Expect(prompts[1]).NotTo(ContainSubstring("closing section"))
			Expect(prompts[2]).NotTo(ContainSubstring("closing section"))
		})
	})

	It("does nothing for an empty plan", func() {
		result := generator.Generate(ctx, newInput(), history, nil)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Sections).To(BeEmpty())
	})

	It("keeps titles but makes no calls when cancelled", func() {
		token := brain.NewCancelToken()
		token.Cancel()

		result := generator.Generate(ctx, newInput("A", "B"), history, token)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Sections).To(HaveLen(2))
		Expect(result.Sections[0].Title).To(Equal("A"))
		Expect(result.Sections[1].Body).To(BeEmpty())
	})
})
