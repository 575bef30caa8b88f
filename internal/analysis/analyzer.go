package analysis

import "strings"

// Analysis is the signal breakdown of one utterance. Categories are not
// mutually exclusive: a sentence can be both sad and about a wedding.
type Analysis struct {
	Health       Health       `json:"health"`
	Situation    Situation    `json:"situation"`
	Mood         Mood         `json:"mood"`
	LifeEvents   LifeEvents   `json:"lifeEvents"`
	Relationship Relationship `json:"relationship"`
}

type Health struct {
	IsSick bool `json:"isSick"`
}

type Situation struct {
	IsAlone bool `json:"isAlone"`
}

type Mood struct {
	IsPositive bool `json:"isPositive"`
	IsNegative bool `json:"isNegative"`
}

type LifeEvents struct {
	IsBirth   bool `json:"isBirth"`
	IsWedding bool `json:"isWedding"`
	IsDeath   bool `json:"isDeath"`
}

type Relationship struct {
	MentionsCousin bool `json:"mentionsCousin"`
}

// Any reports whether at least one signal fired.
func (a Analysis) Any() bool {
	return a.Health.IsSick || a.Situation.IsAlone ||
		a.Mood.IsPositive || a.Mood.IsNegative ||
		a.LifeEvents.IsBirth || a.LifeEvents.IsWedding || a.LifeEvents.IsDeath ||
		a.Relationship.MentionsCousin
}

// Analyze classifies text. Empty or blank input yields the zero Analysis.
func Analyze(text string) Analysis {
	if strings.TrimSpace(text) == "" {
		return Analysis{}
	}
	return Analysis{
		Health:    Health{IsSick: sickTerms.MatchString(text)},
		Situation: Situation{IsAlone: aloneTerms.MatchString(text)},
		Mood: Mood{
			IsPositive: positiveTerms.MatchString(text),
			IsNegative: negativeTerms.MatchString(text),
		},
		LifeEvents: LifeEvents{
			IsBirth:   birthTerms.MatchString(text),
			IsWedding: weddingTerms.MatchString(text),
			IsDeath:   deathTerms.MatchString(text),
		},
		Relationship: Relationship{MentionsCousin: cousinTerms.MatchString(text)},
	}
}
