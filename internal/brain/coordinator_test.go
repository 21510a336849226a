package brain_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

var _ = Describe("AnalysisCoordinator", func() {
	var (
		mockLLM     *mockLLMClient
		coordinator *brain.AnalysisCoordinator
		ctx         context.Context
		req         model.AnalysisRequest
	)

	newCoordinator := func(client llm.Client) *brain.AnalysisCoordinator {
		return brain.NewAnalysisCoordinator(
			brain.NewProductParser(client),
			brain.NewStructureAnalyzer(client),
			brain.NewVisualAnalyzer(client),
			brain.NewRegionalEngine(client, nil),
			brain.NewKeywordPlanner(client, brain.KeywordPlannerConfig{Concurrency: 1}),
			brain.StageDelays{},
		)
	}

	// fullFlow answers every analysis schema with a minimal valid payload.
	fullFlow := func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
		switch req.SchemaName {
		case "product_brief":
			respondJSON(result, map[string]any{
				"brand_name":   "測試牌",
				"product_name": "旗艦吸塵器",
				"usps":         []string{"十年保固"},
			})
		case "voice_analysis":
			respondJSON(result, map[string]any{"general_plan": "plan"})
		case "outline":
			respondJSON(result, map[string]any{
				"h1_title": "標題",
				"sections": []map[string]any{{"title": "A"}},
			})
		case "narrative_analysis":
			respondJSON(result, map[string]any{"sections": []map[string]any{}})
		case "visual_style":
			respondJSON(result, map[string]any{"style": "清爽攝影風"})
		case "regional_detect":
			respondJSON(result, map[string]any{"entities": []map[string]any{
				{"name": "Walmart", "origin": "US", "kind": "brand"},
			}})
		case "regional_equivalents":
			respondJSON(result, map[string]any{"mappings": []map[string]any{
				{"original": "Walmart", "replacement": "[REMOVE]", "reason": "no equivalent"},
			}})
		case "keyword_batch":
			respondJSON(result, map[string]any{"plans": []map[string]any{
				{"word": "吸塵器", "usage_rules": []string{"自然置入"}},
			}})
		default:
			respondJSON(result, map[string]any{})
		}
		return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		mockLLM.chatFn = fullFlow
		coordinator = newCoordinator(mockLLM)
		ctx = context.Background()
		req = model.AnalysisRequest{
			SourceText:  "在 Walmart 買吸塵器的注意事項",
			Audience:    model.AudienceTW,
			Keywords:    []string{"吸塵器"},
			ProductText: "測試牌旗艦吸塵器，十年保固。",
		}
	})

	It("short-circuits when cancelled before any stage", func() {
		token := brain.NewCancelToken()
		token.Cancel()

		result := coordinator.Run(ctx, req, token)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Cancelled).To(BeTrue())
		Expect(result.Analysis.Sections).To(BeEmpty())
	})

	It("parses the product before any concurrent stage starts", func() {
		var order []string
		var mu sync.Mutex
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			mu.Lock()
			order = append(order, req.SchemaName)
			mu.Unlock()
			return fullFlow(ctx, req, result)
		}

		coordinator.Run(ctx, req, nil)

		Expect(order).NotTo(BeEmpty())
		Expect(order[0]).To(Equal("product_brief"))
	})

	It("merges every stage into one result with additive accounting", func() {
		result := coordinator.Run(ctx, req, nil)

		Expect(result.Cancelled).To(BeFalse())
		Expect(result.Product).NotTo(BeNil())
		Expect(result.Product.BrandName).To(Equal("測試牌"))
		Expect(result.Analysis.H1Title).To(Equal("標題"))
		Expect(result.Analysis.Sections).To(HaveLen(1))
		Expect(result.Visual.Style).To(Equal("清爽攝影風"))
		Expect(result.Keywords).To(HaveLen(1))

		// Unresolved Walmart lands in the analysis record at the join point.
		Expect(result.Analysis.RegionalReplacements).To(HaveLen(1))
		Expect(result.Analysis.RegionalReplacements[0].Original).To(Equal("Walmart"))
		Expect(result.Regional.Relevance).To(Equal(90))

		// product + voice + outline + narrative + visual + detect + equivalents + keywords
		calls := mockLLM.calls()
		Expect(result.Usage.PromptTokens).To(Equal(10 * calls))
		Expect(result.Usage.CompletionTokens).To(Equal(5 * calls))
	})

	It("skips commercial parsing when no product text is given", func() {
		req.ProductText = ""

		result := coordinator.Run(ctx, req, nil)

		Expect(result.Product).To(BeNil())
		Expect(result.Analysis.Sections).To(HaveLen(1))
	})
})
