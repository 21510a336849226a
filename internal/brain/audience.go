package brain

import "copyforge.app/pipeline/internal/model"

// RegionConfig drives regional grounding and the language register of
// every prompt for a given audience.
type RegionConfig struct {
	// Language is the vocabulary/register instruction appended to prompts.
	Language string
	// RegionName in the article's own language, for prompt interpolation.
	RegionName string
	// ExcludedOrigins are origins whose entities count as foreign and
	// must be detected for replacement.
	ExcludedOrigins []string
	// LocalBrands are canonical examples of region-appropriate brands,
	// used to anchor the detection prompt.
	LocalBrands []string
}

var regionConfigs = map[model.Audience]RegionConfig{
	model.AudienceTW: {
		Language:        "使用台灣繁體中文與在地用語（例如「影片」而非「視頻」、「品質」而非「質量」）。",
		RegionName:      "台灣",
		ExcludedOrigins: []string{"中國大陸", "香港", "馬來西亞"},
		LocalBrands:     []string{"全聯", "7-ELEVEN", "momo購物網", "PChome"},
	},
	model.AudienceHK: {
		Language:        "使用香港繁體中文與粵語書面語習慣（例如「巴士」、「的士」、「質素」）。",
		RegionName:      "香港",
		ExcludedOrigins: []string{"中國大陸", "台灣", "馬來西亞"},
		LocalBrands:     []string{"百佳", "惠康", "HKTVmall", "萬寧"},
	},
	model.AudienceMY: {
		Language:        "使用馬來西亞簡體中文及當地華語用詞（例如「巴剎」、「令吉」），幣值以 RM 表示。",
		RegionName:      "马来西亚",
		ExcludedOrigins: []string{"中國大陸", "台灣", "香港"},
		LocalBrands:     []string{"Lotus's", "AEON", "Shopee", "99 Speedmart"},
	},
}

// RegionFor returns the region configuration for an audience. Unknown
// audiences fall back to zh-TW rather than failing the run.
func RegionFor(audience model.Audience) RegionConfig {
	if cfg, ok := regionConfigs[audience]; ok {
		return cfg
	}
	return regionConfigs[model.AudienceTW]
}
