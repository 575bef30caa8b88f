package context

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/timeline"
)

// Fallback returns a deterministic reply for when the generator fails. It
// leans on what the turn is about rather than apologising.
func Fallback(in Input) string {
	name := in.Profile.FirstName
	lead := func(s string) string {
		if name == "" {
			return s
		}
		return name + ", " + lowerFirst(s)
	}

	if IsAutoStart(in.Message) {
		if in.Timeline.LastActivity != "" {
			return lead(activityQuestion(in.Timeline))
		}
		if ev := in.Profile.RecentImportantEvent; ev != nil && ev.Topic != "" {
			return lead(fmt.Sprintf("I have been thinking about %s. How is everyone doing?", ev.Topic))
		}
		return lead("I'm glad to see you. What have you been up to since we last talked?")
	}
	if a, ok := resolveAck(in); ok && a.negative {
		return "All right, I understand. Tell me what you have in mind instead?"
	}
	if in.Profile.Health.IsSick && in.Topic.Category == analysis.CategoryHealth {
		return lead("I'm sorry you're not feeling well. How are you holding up right now?")
	}
	if in.Topic.Category.IsLifeEvent() {
		return lead(fmt.Sprintf("That is big news about %s. How are you feeling about it?", in.Topic.Topic))
	}
	if in.Timeline.IsJoking {
		return "Ha, that would be quite the journey! So, how are you really planning to get there?"
	}
	if in.Timeline.LastActivity != "" {
		return lead(activityQuestion(in.Timeline))
	}
	if t := activeTopic(in); t != "" {
		return lead(fmt.Sprintf("Tell me more about %s, I'd love to hear it.", t))
	}
	if in.Profile.Health.IsSick {
		return lead("How are you feeling today? I hope you are resting a little.")
	}
	return lead("I'm listening. Tell me a little more?")
}

func activityQuestion(tl timeline.Timeline) string {
	act := tl.LastActivity
	switch tl.Bucket(act) {
	case timeline.TensePast:
		return fmt.Sprintf("How did the %s go?", act)
	case timeline.TensePresent:
		return fmt.Sprintf("How is the %s going?", act)
	}
	return fmt.Sprintf("Are you looking forward to the %s?", act)
}

var (
	greetingPhrase = regexp.MustCompile(`(?i)^\s*(?:bonjour|bonsoir|salut|coucou|hello|hi|hey|good (?:morning|afternoon|evening))\b(?:[\s,]+[\p{L}'-]+){0,2}\s*[!,.]+\s*`)
	greetingWord   = regexp.MustCompile(`(?i)^\s*(?:bonjour|bonsoir|salut|coucou|hello|hi|hey|good (?:morning|afternoon|evening))\b[\s,!.]*`)
)

// StripGreeting removes an opening greeting from a generated reply. If
// nothing would remain, the reply is returned unchanged.
func StripGreeting(reply string) string {
	trimmed := strings.TrimSpace(reply)
	out := greetingPhrase.ReplaceAllString(trimmed, "")
	if out == trimmed {
		out = greetingWord.ReplaceAllString(trimmed, "")
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return trimmed
	}
	return upperFirst(out)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || r == 'I' {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
