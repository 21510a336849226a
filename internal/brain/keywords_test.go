package brain_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

var _ = Describe("KeywordPlanner", func() {
	var (
		mockLLM *mockLLMClient
		planner *brain.KeywordPlanner
		ctx     context.Context
	)

	newPlanner := func(batchSize int) *brain.KeywordPlanner {
		return brain.NewKeywordPlanner(mockLLM, brain.KeywordPlannerConfig{
			TopN:        30,
			BatchSize:   batchSize,
			Concurrency: 2,
			Stagger:     0,
		})
	}

	echoPlans := func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
		var plans []map[string]any
		for _, line := range strings.Split(req.UserPrompt, "\n") {
			if word, ok := strings.CutPrefix(line, "- "); ok {
				plans = append(plans, map[string]any{
					"word":        word,
					"usage_rules": []string{"use naturally"},
				})
			}
		}
		respondJSON(result, map[string]any{"plans": plans})
		return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		planner = newPlanner(10)
	})

	Describe("Plan", func() {
		It("dedupes case-insensitively and batches before calling the model", func() {
			mockLLM.chatFn = echoPlans

			result := planner.Plan(ctx, "source about A and B", []string{"A", "a", "B"}, model.AudienceTW, nil)

			// A/a collapse to one entry, so one batch of two keywords.
			Expect(mockLLM.calls()).To(Equal(1))
			Expect(result.Plans).To(HaveLen(2))
			Expect(result.Plans[0].Word).To(Equal("A"))
			Expect(result.Plans[1].Word).To(Equal("B"))
		})

		It("splits keywords into ceil(N/B) batches", func() {
			mockLLM.chatFn = echoPlans
			planner = newPlanner(2)

			result := planner.Plan(ctx, "", []string{"k1", "k2", "k3", "k4", "k5"}, model.AudienceTW, nil)

			Expect(mockLLM.calls()).To(Equal(3))
			Expect(result.Plans).To(HaveLen(5))
		})

		It("produces no two entries with the same lowercased word after merge", func() {
			mockLLM.chatFn = echoPlans
			planner = newPlanner(2)

			result := planner.Plan(ctx, "", []string{"Go", "Rust", "go", "Zig", "RUST", "C"}, model.AudienceTW, nil)

			seen := map[string]bool{}
			for _, p := range result.Plans {
				key := strings.ToLower(p.Word)
				Expect(seen[key]).To(BeFalse(), "duplicate word %q", p.Word)
				seen[key] = true
			}
			Expect(result.Plans).To(HaveLen(4))
		})

		It("attaches snippets from source text, never from the model", func() {
			mockLLM.chatFn = echoPlans

			result := planner.Plan(ctx, "Premium widgets ship fast. Widgets last longer.", []string{"widgets"}, model.AudienceTW, nil)

			Expect(result.Plans).To(HaveLen(1))
			Expect(result.Plans[0].Snippets).NotTo(BeEmpty())
			for _, s := range result.Plans[0].Snippets {
				Expect(strings.ToLower(s)).To(ContainSubstring("widgets"))
			}
		})

		It("keeps sibling batches when one batch fails, with additive usage", func() {
			mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				if strings.Contains(req.UserPrompt, "- kw1\n") {
					return nil, context.DeadlineExceeded
				}
				return echoPlans(ctx, req, result)
			}
			planner = newPlanner(1)

			result := planner.Plan(ctx, "", []string{"kw1", "kw2", "kw3"}, model.AudienceTW, nil)

			Expect(mockLLM.calls()).To(Equal(3))
			Expect(result.Plans).To(HaveLen(2))
			// Two successful batches at 10+5 tokens each.
			Expect(result.Usage.PromptTokens).To(Equal(20))
			Expect(result.Usage.CompletionTokens).To(Equal(10))
		})

		It("makes no calls once the cancel token is set", func() {
			mockLLM.chatFn = echoPlans
			token := brain.NewCancelToken()
			token.Cancel()

			result := planner.Plan(ctx, "", []string{"A", "B"}, model.AudienceTW, token)

			Expect(mockLLM.calls()).To(Equal(0))
			Expect(result.Plans).To(BeEmpty())
		})

		It("truncates to the configured top-N before batching", func() {
			mockLLM.chatFn = echoPlans
			planner = brain.NewKeywordPlanner(mockLLM, brain.KeywordPlannerConfig{
				TopN: 3, BatchSize: 10, Concurrency: 2,
			})

			result := planner.Plan(ctx, "", []string{"a", "b", "c", "d", "e"}, model.AudienceTW, nil)

			Expect(result.Plans).To(HaveLen(3))
		})
	})
})

var _ = Describe("keyword helpers", func() {
	It("BatchKeywords yields ceil(N/B) batches", func() {
		cases := []struct {
			n, b, want int
		}{
			{10, 10, 1},
			{11, 10, 2},
			{30, 10, 3},
			{1, 10, 1},
			{0, 10, 0},
		}
		for _, tc := range cases {
			keywords := make([]string, tc.n)
			for i := range keywords {
				keywords[i] = strings.Repeat("k", i+1)
			}
			Expect(brain.BatchKeywords(keywords, tc.b)).To(HaveLen(tc.want))
		}
	})

	It("DedupeKeywords keeps first occurrence order", func() {
		Expect(brain.DedupeKeywords([]string{"B", "a", "b", "A", "c"})).
			To(Equal([]string{"B", "a", "c"}))
	})

	It("DedupeKeywords drops blank entries", func() {
		Expect(brain.DedupeKeywords([]string{" ", "a", ""})).To(Equal([]string{"a"}))
	})
})
