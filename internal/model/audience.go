package model

import "fmt"

// Audience identifies the target region/vocabulary for a run.
type Audience string

const (
	AudienceTW Audience = "zh-TW"
	AudienceHK Audience = "zh-HK"
	AudienceMY Audience = "zh-MY"
)

func ParseAudience(s string) (Audience, error) {
	switch Audience(s) {
	case AudienceTW, AudienceHK, AudienceMY:
		return Audience(s), nil
	}
	return "", fmt.Errorf("unknown audience: %q", s)
}
