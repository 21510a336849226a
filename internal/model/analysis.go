package model

// AnalysisRequest is the immutable input to a pipeline run.
type AnalysisRequest struct {
	SourceText    string   `json:"source_text"`
	Audience      Audience `json:"audience"`
	Keywords      []string `json:"keywords,omitempty"`
	ProductText   string   `json:"product_text,omitempty"`
	SampleOutline string   `json:"sample_outline,omitempty"`
	AuthorityText string   `json:"authority_text,omitempty"`
	BrandText     string   `json:"brand_text,omitempty"`
}

// Difficulty classifies how settled a section's core question is.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyUnclear Difficulty = "unclear"
)

// WritingMode selects the narrative strategy for a section.
type WritingMode string

const (
	WritingModeDirect         WritingMode = "direct"
	WritingModeMultiSolutions WritingMode = "multi_solutions"
)

// Subsection is a nested block under a section with its own facts.
type Subsection struct {
	Title    string   `json:"title"`
	KeyFacts []string `json:"key_facts"`
}

// SectionPlan is produced by the structure analyzer, optionally edited by
// the user, and consumed read-only by the section generator.
type SectionPlan struct {
	Title         string       `json:"title"`
	NarrativePlan []string     `json:"narrative_plan"`
	LogicalFlow   string       `json:"logical_flow,omitempty"`
	CoreFocus     string       `json:"core_focus,omitempty"`
	CoreQuestion  string       `json:"core_question,omitempty"`
	Difficulty    Difficulty   `json:"difficulty,omitempty"`
	WritingMode   WritingMode  `json:"writing_mode,omitempty"`
	Subheadings   []string     `json:"subheadings"`
	KeyFacts      []string     `json:"key_facts"`
	USPNotes      []string     `json:"usp_notes,omitempty"`
	SuppressHints []string     `json:"suppress_hints,omitempty"`
	AugmentHints  []string     `json:"augment_hints,omitempty"`
	Subsections   []Subsection `json:"subsections,omitempty"`
}

// RegionalReplacement maps a foreign entity to its region-appropriate
// equivalent. An empty Replacement means no confident equivalent was
// found; Reason explains why.
type RegionalReplacement struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Reason      string `json:"reason,omitempty"`
}

// ReferenceAnalysis is the merged output of the analysis stage. The
// coordinator mutates it in place as late-arriving stages (regional
// grounding) settle, so downstream consumers observe the merge.
// All slice fields are non-nil after construction; consumers need no
// nil checks.
type ReferenceAnalysis struct {
	H1Title              string                `json:"h1_title"`
	IntroText            string                `json:"intro_text"`
	Sections             []SectionPlan         `json:"sections"`
	GeneralPlan          string                `json:"general_plan"`
	ConversionPlan       string                `json:"conversion_plan"`
	BrandPoints          []string              `json:"brand_points"`
	CompetitorBrands     []string              `json:"competitor_brands"`
	CompetitorProducts   []string              `json:"competitor_products"`
	RegionalVoice        string                `json:"regional_voice"`
	HumanVoice           string                `json:"human_voice"`
	RegionalReplacements []RegionalReplacement `json:"regional_replacements"`
}

// EmptyReferenceAnalysis returns a fully-empty-but-valid analysis so
// downstream consumers can operate without nil checks after a stage
// failure.
func EmptyReferenceAnalysis() ReferenceAnalysis {
	return ReferenceAnalysis{
		Sections:             []SectionPlan{},
		BrandPoints:          []string{},
		CompetitorBrands:     []string{},
		CompetitorProducts:   []string{},
		RegionalReplacements: []RegionalReplacement{},
	}
}

// KeywordActionPlan describes how a keyword should be deployed in the
// generated article. Snippets are extracted deterministically from
// source text, never produced by the model.
type KeywordActionPlan struct {
	Word          string   `json:"word"`
	UsageRules    []string `json:"usage_rules"`
	Snippets      []string `json:"snippets,omitempty"`
	SentenceStart bool     `json:"sentence_start,omitempty"`
	SentenceEnd   bool     `json:"sentence_end,omitempty"`
	AsPrefix      bool     `json:"as_prefix,omitempty"`
	AsSuffix      bool     `json:"as_suffix,omitempty"`
}

// ProblemProductMapping ties a reader pain point to the product feature
// that answers it. Used only for content injection; never mutated after
// creation within a run.
type ProblemProductMapping struct {
	Problem string `json:"problem"`
	Feature string `json:"feature"`
}

// ProductBrief is the brand identity extracted from raw product text.
type ProductBrief struct {
	BrandName   string                  `json:"brand_name"`
	ProductName string                  `json:"product_name"`
	USPs        []string                `json:"usps"`
	Mappings    []ProblemProductMapping `json:"mappings"`
}

// VisualStyle captures the inferred illustration/photography direction.
type VisualStyle struct {
	Style     string   `json:"style"`
	Palette   []string `json:"palette,omitempty"`
	Mood      string   `json:"mood,omitempty"`
	Subjects  []string `json:"subjects,omitempty"`
	AvoidList []string `json:"avoid_list,omitempty"`
}
