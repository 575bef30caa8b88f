package timeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Tense is the temporal bucket of an activity mention.
type Tense string

const (
	TenseFuture  Tense = "future"
	TensePast    Tense = "past"
	TensePresent Tense = "present"
	TenseUnknown Tense = "unknown"
)

func terms(patterns ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(patterns, `|`) + `)`)
}

// Sentence-level cues, checked future → past → present.
var (
	futureCues = terms(
		`je vais`, `j'irai`, `on va`, `nous allons`, `\bdemain\b`, `prochaine?`, `bient[oô]t`, `ce soir`,
		`\bje [\p{L}]+rai\b`, `\bj'[\p{L}]+rai\b`, `\bnous [\p{L}]+rons\b`, `\bon [\p{L}]+ra\b`,
		`j'ai h[aâ]te`, `je compte`, `pr[eé]vois`, `j'aimerais`,
		`\bi'll\b`, `\bwe'll\b`, `\bwill\b`, `going to`, `\bgonna\b`, `tomorrow`, `\bnext\b`, `tonight`, `\bsoon\b`,
		`plan(?:ning)? to`, `can't wait`,
	)
	pastCues = terms(
		`\bhier\b`, `\bj'ai\b`, `\bavons\b`, `suis all[eé]`, `derni[eè]re?`, `pass[eé]e?`+`(?:\s|$)`, `il y a`,
		`[ée]tait`, `[ée]tions`, `rentr[eé]`,
		`yesterday`, `\blast\b`, `\bwent\b`, `\bago\b`, `\bdid\b`, `\bwas\b`, `\bwere\b`, `\bhad\b`,
		`finished`, `came back`, `got back`, `returned`,
	)
	presentCues = terms(
		`en ce moment`, `actuellement`, `en train de`, `maintenant`, `aujourd'hui`,
		`right now`, `currently`, `at the moment`, `\bnow\b`, `\b(?:i'm|i am|we're|we are) [a-z]+ing\b`,
	)
)

// Word-level cues, read in a short window around one mention when the
// sentence as a whole gave no tense.
var (
	localFutureCues = terms(
		`\bva\b`, `\bvais\b`, `\bvas\b`, `\ballons\b`, `\bira\b`, `\birai\b`, `\bveux\b`, `pr[eé]vu`,
		`want to`, `would like`, `\bplan`, `\bshall\b`,
	)
	localPastCues = terms(
		`\b[a-z]+ed\b`, `\bfait\b`, `\bfini`, `\bai\b`, `\bavez\b`, `all[eé]e?s?(?:\s|$)`,
		`\bgone\b`, `\bdone\b`, `\bbeen\b`,
	)
	localPresentCues = terms(
		`\bam\b`, `\bje suis\b`, `\bon est\b`, `\bin the middle of\b`,
	)
)

// negationCues are read just before a mention and anchored at its start: a
// cue only counts when it governs the verb phrase that leads into the
// activity ("won't go hiking", "ne vais pas faire de jardinage"). Enthusiasm
// such as "can't wait to go" has no governed verb and does not match.
var negationCues = terms(
	`\b(?:not|never|won't|will not|don't|do not|doesn't|didn't|can't|cannot|no longer)\s+` +
		`(?:be\s+)?(?:(?:want|plan|need|have|like|feel like)\s+(?:to\s+)?)?` +
		`(?:go|goes|going|gone|do|doing|visit|visiting|see|seeing|make|making|take|taking|attend|attending|book|booking|get|getting)\b` +
		governedTail,
	`(?:\bne\s+|\bn')[\p{L}]+\s+(?:pas|plus|jamais)\b` + governedTail,
	`\bpas\s+(?:aller|faire|partir)\b` + governedTail,
	`\b(?:no|not|never|no longer|no more|pas de|pas d')\s*$`,
)

// governedTail allows a few linking words ("to the", "au", "de") between the
// negated verb and the mention.
const governedTail = `(?:\s+[\p{L}'’-]+){0,3}\s*$`

var planChangeCues = terms(
	`chang[eé] d'avis`, `annul[eé]`, `\bplut[oô]t\b`, `au lieu de`, `finalement`,
	`changed my mind`, `change of plans?`, `cancel(?:l?ed)?`, `\binstead\b`, `called off`,
)

var absurdTransport = terms(
	`fus[eé]e`, `soucoupe`, `tapis volant`, `licorne`, `trottinette`, `t[eé]l[eé]port`, `\bbalai\b`,
	`à dos d`, `chameau`, `à la nage`, `à pied`,
	`rocket`, `spaceship`, `flying carpet`, `unicorn`, `teleport`, `broomstick`, `camel`, `on foot`, `swim there`,
	`skateboard`,
)

var greetingCues = terms(
	`^\s*(?:bonjour|bonsoir|salut|coucou|hello|hi|hey|good (?:morning|afternoon|evening))\b`,
)

// IsGreeting reports whether text opens with a greeting.
func IsGreeting(text string) bool {
	return greetingCues.MatchString(text)
}

// ClassifyTense returns the sentence-level tense: future cues beat past cues,
// past cues beat present cues.
func ClassifyTense(text string) Tense {
	switch {
	case futureCues.MatchString(text):
		return TenseFuture
	case pastCues.MatchString(text):
		return TensePast
	case presentCues.MatchString(text):
		return TensePresent
	default:
		return TenseUnknown
	}
}

func classifyLocal(window string) Tense {
	switch {
	case localFutureCues.MatchString(window):
		return TenseFuture
	case localPastCues.MatchString(window):
		return TensePast
	case localPresentCues.MatchString(window):
		return TensePresent
	default:
		return TenseUnknown
	}
}

// Activity is a named activity and the patterns that mention it.
type Activity struct {
	Name     string
	Patterns *regexp.Regexp
	Travel   bool
}

// Activities is the table of recognised activities.
var Activities = []Activity{
	{Name: "trip to Mexico", Patterns: terms(`mexique`, `mexico`, `canc[uú]n`), Travel: true},
	{Name: "hiking", Patterns: terms(`randonn[eé]e`, `randonner`, `\bhik(?:e|es|ed|ing)\b`, `\btrek`)},
	{Name: "gardening", Patterns: terms(`jardin(?:age|er)?\b`, `potager`, `\bgarden(?:ing|ed)?\b`)},
	{Name: "doctor appointment", Patterns: terms(`m[eé]decin`, `docteur`, `dentiste`, `\bdoctor\b`, `\bdentist\b`, `check-?up`)},
	{Name: "shopping", Patterns: terms(`\bcourses\b`, `les magasins`, `au march[eé]`, `supermarch[eé]`, `shopping`, `grocer(?:y|ies)`)},
	{Name: "cooking", Patterns: terms(`cuisiner`, `\brecette`, `p[aâ]tisserie`, `g[aâ]teau`, `\bcook(?:ing|ed)?\b`, `\bbak(?:e|ing|ed)\b`, `recipe`)},
	{Name: "walk", Patterns: terms(`promenade`, `balade`, `promener`, `\bmarcher\b`, `\bwalk(?:s|ed|ing)?\b`, `stroll`)},
	{Name: "family visit", Patterns: terms(`rendre visite`, `viennent me voir`, `vient me voir`, `visit(?:ing|ed)? (?:my|the|our) (?:family|kids|children|grandchildren|son|daughter|sister|brother)`, `(?:family|kids|grandchildren) (?:are|is) coming`)},
	{Name: "swimming", Patterns: terms(`piscine`, `\bnager\b`, `natation`, `\bswim(?:ming)?\b`, `\bswam\b`)},
	{Name: "vacation", Patterns: terms(`vacances`, `vacation`, `holiday`), Travel: true},
	{Name: "reading", Patterns: terms(`\blire\b`, `lecture`, `\blivre\b`, `\broman\b`, `\bnovel\b`, `\breading\b`)},
	{Name: "movie", Patterns: terms(`\bfilm\b`, `cin[eé]ma`, `\bmovie`)},
	{Name: "church", Patterns: terms(`[eé]glise`, `\bmesse\b`, `church`)},
	{Name: "knitting", Patterns: terms(`tricot`, `\bknit(?:ting)?\b`)},
}

// window returns s[start:end] widened by up to n runes on each side.
func window(s string, start, end, n int) string {
	to := end
	for i := 0; i < n && to < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[to:])
		to += size
	}
	return before(s, start, n) + s[start:to]
}

// before returns up to n runes immediately preceding s[start].
func before(s string, start, n int) string {
	from := start
	for i := 0; i < n && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:from])
		from -= size
	}
	return s[from:start]
}
