// Package analysis classifies single utterances: a non-exclusive signal
// analysis (health, loneliness, mood, life events, relationships) and an
// exclusive topic/importance score chosen by ordered rule precedence.
package analysis

import (
	"regexp"
	"strings"
)

// Term lists are French first, English second. Go's \b only understands ASCII
// word characters, so it is used next to ASCII letters only; terms ending in
// an accented letter use an explicit delimiter group instead.
const delim = `(?:[\s.,;:!?'"()]|$)`

func terms(patterns ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(patterns, `|`) + `)`)
}

var (
	sickTerms = terms(
		`malade`, `maladie`, `fi[eè]vre`, `grippe`, `rhume`, `douleur`, `\bmal (?:au|à la|a la|aux)\b`,
		`h[oô]pital`, `m[eé]decin`, `docteur`, `fatigu[eé]`, `\btousse`, `migraine`, `op[eé]ration`,
		`\bsick\b`, `\bill\b`, `\bfever\b`, `\bflu\b`, `\bin pain\b`, `painful`, `\bhurts?\b`, `hospital`, `\bdoctor\b`,
		`headache`, `\btired\b`, `\bcough`,
	)

	aloneTerms = terms(
		`\bseule?s?\b`, `solitude`, `isol[eé]`, `personne ne (?:me )?(?:rend visite|vient|m'appelle|appelle)`,
		`\balone\b`, `\blonely\b`, `loneliness`, `nobody (?:visits|calls|comes)`, `on my own`,
	)

	positiveTerms = terms(
		`\bcontente?\b`, `heureux`, `heureuse`, `\bjoie\b`, `\bravie?\b`, `g[eé]nial`, `\bsuper\b`,
		`je vais bien`, `[cç]a va bien`, `tr[eè]s bien`, `joyeux`, `joyeuse`,
		`\bhappy\b`, `\bglad\b`, `\bgreat\b`, `wonderful`, `\bexcited\b`, `\blovely\b`, `feeling good`,
	)

	negativeTerms = terms(
		`triste`, `tristesse`, `d[eé]prim[eé]`, `malheureu`, `inqui[eè]te?`, `angoiss`, `\bpeur\b`,
		`m'ennuie`, `\bcafard\b`, `pas bien`, `[cç]a va pas`, `[cç]a ne va pas`,
		`\bsad\b`, `depressed`, `unhappy`, `worried`, `anxious`, `\bupset\b`, `not good`, `\bscared\b`,
	)

	birthTerms = terms(
		`b[eé]b[eé]`, `naissance`, `accouch`, `enceinte`, `(?:est|sont) n[eé]e?s?`+delim,
		`\bbaby\b`, `\bbabies\b`, `\bborn\b`, `gave birth`, `pregnant`, `newborn`,
	)

	weddingTerms = terms(
		`mariage`, `marié(?:e|es|s)?`+delim, `se marie`, `\bmarier\b`, `\bnoces?\b`, `fian[cç]ailles`, `fianc[eé]e?`+delim,
		`wedding`, `\bmarried\b`, `\bmarry`, `\bengaged\b`, `\bbride\b`,
	)

	deathTerms = terms(
		`d[eé]c[eè]s`, `d[eé]c[eé]d[eé]`, `\bmorte?s?\b`, `fun[eé]railles`, `enterrement`, `obs[eè]ques`,
		`\bdeuil\b`, `nous a quitt[eé]`,
		`\bdied\b`, `passed away`, `\bdeath\b`, `\bdead\b`, `funeral`, `lost my (?:husband|wife|son|daughter|brother|sister|mother|father|friend)`,
	)

	cousinTerms = terms(`\bcousines?\b`, `\bcousins?\b`)

	familyTerms = terms(
		`famille`, `\bfils\b`, `\bfilles?\b`, `petit-fils`, `petite-fille`, `petits-enfants`, `fr[eè]re`,
		`s(?:oe|œ)ur`, `\bneveu`, `ni[eè]ce`, `\bmari\b`, `ma femme`, `mes enfants`, `\bcousines?\b`, `\bcousins?\b`,
		`\bfamily\b`, `my son`, `daughter`, `grandchild`, `grandson`, `granddaughter`, `\bbrother`, `\bsister`,
		`\bnephew`, `\bniece`, `husband`, `my wife`, `\bkids\b`,
	)

	travelTerms = terms(
		`voyage`, `vacances`, `partir en`, `mexique`, `\bavion\b`, `\bvol\b`,
		`\btrip\b`, `\btravel`, `vacation`, `holiday`, `\bflight\b`, `mexico`,
	)

	hobbyTerms = terms(
		`jardin`, `tricot`, `lecture`, `\blire\b`, `cuisine`, `cuisiner`, `peinture`, `mots crois[eé]s`, `p[eê]che`,
		`garden`, `knit`, `\breading\b`, `\bcook`, `painting`, `crossword`, `fishing`, `hobby`, `hobbies`,
	)
)
