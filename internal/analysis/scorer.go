package analysis

import (
	"regexp"
	"strings"
)

// Category groups topics that share importance floors and memory context labels.
type Category string

const (
	CategoryBirth   Category = "birth"
	CategoryWedding Category = "wedding"
	CategoryDeath   Category = "death"
	CategoryHealth  Category = "health"
	CategoryFamily  Category = "family"
	CategoryTravel  Category = "travel"
	CategoryMood    Category = "mood"
	CategoryHobby   Category = "hobby"
	CategoryGeneral Category = "general"
)

// IsLifeEvent reports whether c is a birth, wedding or death.
func (c Category) IsLifeEvent() bool {
	return c == CategoryBirth || c == CategoryWedding || c == CategoryDeath
}

// DefaultTopic is returned when no rule matches.
const DefaultTopic = "general conversation"

// TopicScore is the single best topic for an utterance.
type TopicScore struct {
	Score    int      `json:"score"`
	Topic    string   `json:"topic"`
	Category Category `json:"category"`
}

// Rule matches when every one of its patterns matches.
type Rule struct {
	Name     string
	All      []*regexp.Regexp
	Score    int
	Topic    string
	Category Category
}

func (r Rule) matches(text string) bool {
	for _, re := range r.All {
		if !re.MatchString(text) {
			return false
		}
	}
	return len(r.All) > 0
}

// rules is evaluated top to bottom and the first match wins. Life events sit
// above family and health so "my cousin had a baby" is never scored as plain family news.
var rules = []Rule{
	{Name: "cousin-baby", All: []*regexp.Regexp{cousinTerms, birthTerms}, Score: 10, Topic: "your cousin's baby", Category: CategoryBirth},
	{Name: "death", All: []*regexp.Regexp{deathTerms}, Score: 10, Topic: "the loss of a loved one", Category: CategoryDeath},
	{Name: "birth", All: []*regexp.Regexp{birthTerms}, Score: 10, Topic: "the new baby", Category: CategoryBirth},
	{Name: "wedding", All: []*regexp.Regexp{weddingTerms}, Score: 10, Topic: "the wedding", Category: CategoryWedding},
	{Name: "health", All: []*regexp.Regexp{sickTerms}, Score: 8, Topic: "your health", Category: CategoryHealth},
	{Name: "family", All: []*regexp.Regexp{familyTerms}, Score: 7, Topic: "your family", Category: CategoryFamily},
	{Name: "travel", All: []*regexp.Regexp{travelTerms}, Score: 6, Topic: "your trip", Category: CategoryTravel},
	{Name: "loneliness", All: []*regexp.Regexp{aloneTerms}, Score: 6, Topic: "feeling lonely", Category: CategoryMood},
	{Name: "mood", All: []*regexp.Regexp{moodTerms}, Score: 5, Topic: "how you're feeling", Category: CategoryMood},
	{Name: "hobby", All: []*regexp.Regexp{hobbyTerms}, Score: 4, Topic: "your hobbies", Category: CategoryHobby},
}

var moodTerms = regexp.MustCompile(positiveTerms.String() + `|` + negativeTerms.String())

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Score returns the first matching rule's topic and importance, or
// {0, "general conversation"} when nothing matches.
func Score(text string) TopicScore {
	if strings.TrimSpace(text) != "" {
		for _, r := range rules {
			if r.matches(text) {
				return TopicScore{Score: r.Score, Topic: r.Topic, Category: r.Category}
			}
		}
	}
	return TopicScore{Score: 0, Topic: DefaultTopic, Category: CategoryGeneral}
}

// CategoryForTopic maps a topic label to its category. Labels produced by
// Score resolve exactly; free-form labels are classified by their own words.
func CategoryForTopic(topic string) Category {
	for _, r := range rules {
		if strings.EqualFold(r.Topic, topic) {
			return r.Category
		}
	}
	return Score(topic).Category
}
