package memory

import (
	"regexp"
	"strconv"
	"time"
)

type delayRule struct {
	re  *regexp.Regexp
	fix time.Duration
	// unit multiplies the first capture group when fix is zero.
	unit time.Duration
}

const day = 24 * time.Hour

// Checked in order; "après-demain" must precede "demain".
var delayRules = []delayRule{
	{re: regexp.MustCompile(`(?i)\b(?:in|dans) (\d{1,3}) (?:days?|jours?)\b`), unit: day},
	{re: regexp.MustCompile(`(?i)\b(?:in|dans) (\d{1,2}) (?:weeks?|semaines?)\b`), unit: 7 * day},
	{re: regexp.MustCompile(`(?i)apr[eè]s-demain|day after tomorrow`), fix: 2 * day},
	{re: regexp.MustCompile(`(?i)\btomorrow\b|\bdemain\b`), fix: day},
	{re: regexp.MustCompile(`(?i)\bnext week\b|semaine prochaine|prochaine semaine`), fix: 7 * day},
	{re: regexp.MustCompile(`(?i)\bnext month\b|mois prochain|prochain mois`), fix: 30 * day},
	{re: regexp.MustCompile(`(?i)\bin a few days\b|dans quelques jours`), fix: 3 * day},
}

// ParseDelay returns the instant a memory about content becomes discussable,
// or nil when content names no delay.
func ParseDelay(content string, now time.Time) *time.Time {
	for _, r := range delayRules {
		m := r.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		d := r.fix
		if d == 0 {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			d = time.Duration(n) * r.unit
		}
		at := now.Add(d)
		return &at
	}
	return nil
}
