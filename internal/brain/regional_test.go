package brain_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

type stubSearcher struct {
	candidates []string
	queries    []string
}

func (s *stubSearcher) Search(_ context.Context, entity, _ string) ([]string, error) {
	s.queries = append(s.queries, entity)
	return s.candidates, nil
}

var _ = Describe("RegionalEngine", func() {
	var (
		mockLLM *mockLLMClient
		engine  *brain.RegionalEngine
		ctx     context.Context
	)

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		engine = brain.NewRegionalEngine(mockLLM, nil)
		ctx = context.Background()
	})

	// groundingFlow answers detect/equivalents/rewrite by schema name.
	groundingFlow := func(entities []map[string]any, mappings []map[string]any) func(context.Context, llm.Request, any) (*llm.Response, error) {
		return func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
			switch req.SchemaName {
			case "regional_detect":
				respondJSON(result, map[string]any{"entities": entities})
			case "regional_equivalents":
				respondJSON(result, map[string]any{"mappings": mappings})
			case "regional_rewrite":
				respondJSON(result, map[string]any{
					"content": "localized content",
					"changes": []map[string]any{{"before": "Walmart", "after": "全聯"}},
				})
			default:
				return nil, fmt.Errorf("unexpected schema %q", req.SchemaName)
			}
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}
	}

	It("skips entirely on empty content", func() {
		result := engine.Ground(ctx, "", model.AudienceTW, nil)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Relevance).To(Equal(100))
		Expect(result.Replacements).To(BeEmpty())
		Expect(result.Usage).To(Equal(llm.TokenUsage{}))
	})

	It("skips entirely when already cancelled", func() {
		token := brain.NewCancelToken()
		token.Cancel()

		result := engine.Ground(ctx, "some content", model.AudienceTW, token)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Replacements).To(BeEmpty())
	})

	It("stops after detection when nothing is foreign", func() {
		mockLLM.chatFn = groundingFlow(nil, nil)

		result := engine.Ground(ctx, "全聯的促銷活動", model.AudienceTW, nil)

		Expect(mockLLM.calls()).To(Equal(1))
		Expect(result.Replacements).To(BeEmpty())
		Expect(result.Relevance).To(Equal(100))
		Expect(result.Usage.PromptTokens).To(Equal(10))
	})

	It("detects, maps, and rewrites foreign entities", func() {
		mockLLM.chatFn = groundingFlow(
			[]map[string]any{
				{"name": "Walmart", "origin": "US", "kind": "brand"},
				{"name": "Target", "origin": "US", "kind": "brand"},
			},
			[]map[string]any{
				{"original": "Walmart", "replacement": "全聯", "reason": "closest local supermarket chain"},
				{"original": "Target", "replacement": "[REMOVE]", "reason": "no local equivalent"},
			},
		)

		result := engine.Ground(ctx, "Shop at Walmart or Target.", model.AudienceTW, nil)

		Expect(mockLLM.calls()).To(Equal(3))
		Expect(result.Replacements).To(HaveLen(2))
		Expect(result.Replacements[0].Replacement).To(Equal("全聯"))
		Expect(result.Replacements[1].Replacement).To(BeEmpty())
		Expect(result.Relevance).To(Equal(90))
		Expect(result.Content).To(Equal("localized content"))
		Expect(result.Changes).To(HaveLen(1))
		Expect(result.Usage).To(Equal(llm.TokenUsage{PromptTokens: 30, CompletionTokens: 15}))
	})

	It("returns one replacement per entity even when the model drops some", func() {
		mockLLM.chatFn = groundingFlow(
			[]map[string]any{
				{"name": "Walmart", "origin": "US", "kind": "brand"},
				{"name": "Costco", "origin": "US", "kind": "brand"},
			},
			[]map[string]any{
				{"original": "walmart ", "replacement": "全聯", "reason": "matched case-insensitively"},
			},
		)

		result := engine.Ground(ctx, "Walmart and Costco.", model.AudienceTW, nil)

		Expect(result.Replacements).To(HaveLen(2))
		Expect(result.Replacements[0].Replacement).To(Equal("全聯"))
		Expect(result.Replacements[1].Replacement).To(BeEmpty())
		Expect(result.Replacements[1].Reason).To(Equal("no mapping returned"))
	})

	It("floors relevance at zero", func() {
		entities := make([]map[string]any, 11)
		mappings := make([]map[string]any, 11)
		for i := range entities {
			name := fmt.Sprintf("Brand%d", i)
			entities[i] = map[string]any{"name": name, "origin": "US", "kind": "brand"}
			mappings[i] = map[string]any{"original": name, "replacement": "[REMOVE]", "reason": "none"}
		}
		mockLLM.chatFn = groundingFlow(entities, mappings)

		result := engine.Ground(ctx, "many foreign brands", model.AudienceTW, nil)

		Expect(result.Relevance).To(Equal(0))
		// Nothing resolved, so rewrite never runs.
		Expect(mockLLM.calls()).To(Equal(2))
	})

	It("keeps original content when the rewrite fails", func() {
		flow := groundingFlow(
			[]map[string]any{{"name": "Walmart", "origin": "US", "kind": "brand"}},
			[]map[string]any{{"original": "Walmart", "replacement": "全聯", "reason": "local chain"}},
		)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			if req.SchemaName == "regional_rewrite" {
				return nil, errors.New("model unavailable")
			}
			return flow(ctx, req, result)
		}

		result := engine.Ground(ctx, "Shop at Walmart.", model.AudienceTW, nil)

		Expect(result.Content).To(BeEmpty())
		Expect(result.Replacements).To(HaveLen(1))
		Expect(result.Relevance).To(Equal(100))
	})

	It("feeds directory candidates into the equivalents prompt", func() {
		search := &stubSearcher{candidates: []string{"全聯", "家樂福"}}
		engine = brain.NewRegionalEngine(mockLLM, search)

		var equivalentsPrompt string
		flow := groundingFlow(
			[]map[string]any{{"name": "Walmart", "origin": "US", "kind": "brand"}},
			[]map[string]any{{"original": "Walmart", "replacement": "全聯", "reason": "top candidate"}},
		)
		mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			if req.SchemaName == "regional_equivalents" {
				equivalentsPrompt = req.UserPrompt
			}
			return flow(ctx, req, result)
		}

		engine.Ground(ctx, "Shop at Walmart.", model.AudienceTW, nil)

		Expect(search.queries).To(Equal([]string{"Walmart"}))
		Expect(equivalentsPrompt).To(ContainSubstring("directory candidates"))
		Expect(strings.Count(equivalentsPrompt, "全聯")).To(BeNumerically(">=", 1))
	})
})
