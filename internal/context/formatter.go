package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/timeline"
)

// Formatter renders prompt sections into prompt-ready strings.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// FormatAmbient renders the date, time of day and location block.
func (f *Formatter) FormatAmbient(a Ambient) string {
	now := a.localNow()
	if now.IsZero() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Right now\n\n")
	fmt.Fprintf(&b, "- **Date:** %s\n", FormatDate(now))
	fmt.Fprintf(&b, "- **Time:** %s (%s)\n", now.Format("15:04"), PartOfDay(now))
	if a.Location != "" {
		fmt.Fprintf(&b, "- **Location:** %s\n", a.Location)
	}
	b.WriteString("\n")
	return b.String()
}

// FormatProfile renders what is known about the user. The latest important
// event comes first.
func (f *Formatter) FormatProfile(p profile.UserContext) string {
	var lines []string
	if ev := p.RecentImportantEvent; ev != nil && ev.Topic != "" {
		line := fmt.Sprintf("- **Important:** %s", ev.Topic)
		if ev.Content != "" {
			line += fmt.Sprintf(" (they said: %q)", ev.Content)
		}
		lines = append(lines, line)
	}
	if p.FirstName != "" {
		lines = append(lines, fmt.Sprintf("- **Name:** %s", p.FirstName))
	}
	if p.Health.IsSick {
		line := "- **Health:** not feeling well"
		if !p.Health.Since.IsZero() {
			line += " since " + FormatDate(p.Health.Since)
		}
		lines = append(lines, line)
	}
	if p.Situation.IsAlone {
		lines = append(lines, "- **Situation:** feels alone")
	}
	if p.Mood.Current != "" && p.Mood.Current != profile.MoodNeutral {
		lines = append(lines, fmt.Sprintf("- **Mood:** %s", p.Mood.Current))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## About the user\n\n" + strings.Join(lines, "\n") + "\n\n"
}

// FormatActivities renders the three activity lists, each under its own label.
func (f *Formatter) FormatActivities(tl timeline.Timeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Activities\n\n")
	fmt.Fprintf(&b, "- **Planned (not done yet):** %s\n", listOrNone(tl.Future))
	fmt.Fprintf(&b, "- **Already done:** %s\n", listOrNone(tl.Past))
	fmt.Fprintf(&b, "- **In progress:** %s\n", listOrNone(tl.Present))
	b.WriteString("\n")
	return b.String()
}

// FormatMemory renders one memory as a list item.
func (f *Formatter) FormatMemory(m memory.Memory) string {
	line := fmt.Sprintf("- %s: %s", m.Topic, m.Content)
	if m.Context != "" {
		line += fmt.Sprintf(" (%s)", m.Context)
	}
	return line + "\n"
}

// FormatMessage renders one history line. Messages not sent by userID are
// attributed to the companion.
func (f *Formatter) FormatMessage(m conversation.Message, userID, companion string) string {
	who := "User"
	if m.SenderID != userID {
		who = companion
	}
	content := m.Content
	if m.Type == conversation.TypeImage {
		content = strings.TrimSpace("[photo] " + content)
	}
	return fmt.Sprintf("%s: %s\n", who, content)
}

// FormatSystemPrompt joins the system text with numbered rules.
func (f *Formatter) FormatSystemPrompt(system string, rules []string) string {
	var b strings.Builder
	b.WriteString(system)
	if len(rules) > 0 {
		b.WriteString("\nWhen replying:\n")
		for i, r := range rules {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r)
		}
	}
	return b.String()
}

// FormatDate renders t as "Monday 3 June 2024".
func FormatDate(t time.Time) string {
	return t.Format("Monday 2 January 2006")
}

// PartOfDay names the slice of the day t falls in.
func PartOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 18:
		return "afternoon"
	case h >= 18 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
