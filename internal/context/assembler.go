package context

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/timeline"
)

// AutoStart is the message a client sends when the user opens a session and
// the companion should speak first. It is never stored as a user message.
const AutoStart = "[AUTO_START]"

// IsAutoStart reports whether msg is the session auto-start sentinel.
func IsAutoStart(msg string) bool { return strings.TrimSpace(msg) == AutoStart }

// Ambient holds facts about the moment that do not come from the conversation.
type Ambient struct {
	Now           time.Time
	Location      string
	TimeZone      string
	CompanionName string
}

func (a Ambient) localNow() time.Time {
	if a.Now.IsZero() || a.TimeZone == "" {
		return a.Now
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return a.Now
	}
	return a.Now.In(loc)
}

func (a Ambient) companion() string {
	if a.CompanionName == "" {
		return "Companion"
	}
	return a.CompanionName
}

// Input is everything the assembler reads for one turn.
type Input struct {
	UserID   string
	Message  string
	History  []conversation.Message // oldest first; may end with Message itself
	Timeline timeline.Timeline
	Memories []memory.Memory // most relevant first
	Profile  profile.UserContext
	Topic    analysis.TopicScore
	Ambient  Ambient
}

// Prompt is the assembled request for the generator.
type Prompt struct {
	System       string
	Instructions []string
	Context      string
	UserMessage  string
	TokensUsed   int
	AutoStart    bool
	// Sources lists what was included, one short label per entry.
	Sources []string
}

// SystemText returns the system text followed by the numbered instructions.
func (p Prompt) SystemText() string {
	return NewFormatter().FormatSystemPrompt(p.System, p.Instructions)
}

// Options bounds what goes into a prompt. Zero values use the defaults.
type Options struct {
	MaxTokens      int
	HistoryTurns   int
	AutoStartTurns int
}

// Assembler builds prompts. It holds no per-user state.
type Assembler struct {
	formatter *Formatter
	tokenizer *Tokenizer
	opts      Options
}

// NewAssembler creates an Assembler. tokenizer may be nil.
func NewAssembler(formatter *Formatter, tokenizer *Tokenizer, opts Options) *Assembler {
	if formatter == nil {
		formatter = NewFormatter()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 3000
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 12
	}
	if opts.AutoStartTurns <= 0 {
		opts.AutoStartTurns = 6
	}
	return &Assembler{formatter: formatter, tokenizer: tokenizer, opts: opts}
}

// Assemble builds the prompt for in. It is deterministic given its input.
func (a *Assembler) Assemble(in Input) Prompt {
	if IsAutoStart(in.Message) {
		return a.assembleAutoStart(in)
	}

	now := in.Ambient.Now
	discussable := memory.Discussable(in.Memories, now)
	deferred := memory.Deferred(in.Memories, now)

	var rules []string
	if in.Timeline.HasGreeted {
		rules = append(rules, "You have already greeted the user in this conversation. Do not greet them again; answer directly.")
	}
	rules = append(rules, topicRule(in))
	rules = append(rules,
		"Never describe a planned activity as already done. Only the \"Already done\" list happened.",
		"Never invent activities, people or details the user has not mentioned.",
		"Never ask again a question the user has just answered with \"no\".",
	)
	if in.Timeline.IsJoking {
		rules = append(rules, fmt.Sprintf("The user is joking (%q). Play along with a light touch of humour, then come back to the subject.", in.Timeline.JokeContent))
	}
	if len(discussable) > 0 {
		rules = append(rules, fmt.Sprintf("You already know about: %s. Do not ask about these as if they were new.", topics(discussable)))
	}
	for _, m := range memory.ByImportance(deferred) {
		rules = append(rules, fmt.Sprintf("Avoid discussing %s until %s.", m.Topic, FormatDate(*m.RemindAfter)))
	}
	rules = append(rules, "Answer in the user's language, warmly, in two or three short sentences.")

	var system strings.Builder
	fmt.Fprintf(&system, "You are %s, a warm companion chatting with %s.\n\n", in.Ambient.companion(), userName(in.Profile))
	system.WriteString(a.formatter.FormatAmbient(in.Ambient))
	system.WriteString(a.formatter.FormatProfile(in.Profile))
	system.WriteString(a.formatter.FormatActivities(in.Timeline))

	p := Prompt{
		System:       system.String(),
		Instructions: rules,
		UserMessage:  in.Message,
		Sources:      []string{"timeline", "profile"},
	}

	remaining := a.opts.MaxTokens - a.tokenizer.Count(p.SystemText()) - a.tokenizer.Count(in.Message)
	var sections []string

	// Memories first, most relevant first.
	var memBlock strings.Builder
	for _, m := range discussable {
		line := a.formatter.FormatMemory(m)
		tokens := a.tokenizer.Count(line)
		if tokens > remaining {
			break
		}
		memBlock.WriteString(line)
		remaining -= tokens
		p.Sources = append(p.Sources, fmt.Sprintf("memory: %s", truncateStr(m.Topic, 60)))
	}
	if memBlock.Len() > 0 {
		sections = append(sections, "## What you remember\n\n"+memBlock.String())
	}

	// Then history, newest first, rendered oldest first.
	history := priorTurns(in.History, in.UserID, in.Message)
	if len(history) > a.opts.HistoryTurns {
		history = history[len(history)-a.opts.HistoryTurns:]
	}
	var lines []string
	for i := len(history) - 1; i >= 0; i-- {
		line := a.formatter.FormatMessage(history[i], in.UserID, in.Ambient.companion())
		tokens := a.tokenizer.Count(line)
		if tokens > remaining {
			break
		}
		lines = append(lines, line)
		remaining -= tokens
	}
	if len(lines) > 0 {
		reverse(lines)
		sections = append(sections, "## Recent conversation\n\n"+strings.Join(lines, ""))
		p.Sources = append(p.Sources, fmt.Sprintf("history: %d messages", len(lines)))
	}

	p.Context = strings.Join(sections, "\n")
	p.TokensUsed = a.opts.MaxTokens - remaining
	return p
}

func (a *Assembler) assembleAutoStart(in Input) Prompt {
	tl := in.Timeline
	var rules []string
	if tl.HasGreeted {
		rules = append(rules, "You have already greeted the user today. Do not greet them again.")
	}
	rules = append(rules, "The user has just opened the conversation. Speak first with one warm line that shows you remember them.")
	if tl.LastActivity != "" {
		rules = append(rules, activityOpener(tl))
	}
	switch in.Profile.Mood.Current {
	case profile.MoodNegative:
		rules = append(rules, "Last time they seemed low. Check in on how they feel, gently.")
	case profile.MoodPositive:
		rules = append(rules, "Last time they were in good spirits. Share in that.")
	}
	if ev := in.Profile.RecentImportantEvent; ev != nil && ev.Topic != "" {
		rules = append(rules, fmt.Sprintf("They recently shared something important: %s. You may mention it.", ev.Topic))
	}
	rules = append(rules,
		"Do not open with a generic line such as \"How can I help you?\" or \"How are you?\" alone.",
		"Never describe a planned activity as already done.",
		"Never invent activities, people or details the user has not mentioned.",
	)

	var system strings.Builder
	fmt.Fprintf(&system, "You are %s, a warm companion about to greet %s.\n\n", in.Ambient.companion(), userName(in.Profile))
	system.WriteString(a.formatter.FormatAmbient(in.Ambient))
	system.WriteString(a.formatter.FormatProfile(in.Profile))
	system.WriteString(a.formatter.FormatActivities(tl))

	p := Prompt{
		System:       system.String(),
		Instructions: rules,
		UserMessage:  "(The user has opened the conversation. Say the first line.)",
		AutoStart:    true,
		Sources:      []string{"timeline", "profile"},
	}

	remaining := a.opts.MaxTokens - a.tokenizer.Count(p.SystemText())
	history := priorTurns(in.History, in.UserID, AutoStart)
	if len(history) > a.opts.AutoStartTurns {
		history = history[len(history)-a.opts.AutoStartTurns:]
	}
	var lines []string
	for i := len(history) - 1; i >= 0; i-- {
		line := a.formatter.FormatMessage(history[i], in.UserID, in.Ambient.companion())
		tokens := a.tokenizer.Count(line)
		if tokens > remaining {
			break
		}
		lines = append(lines, line)
		remaining -= tokens
	}
	if len(lines) > 0 {
		reverse(lines)
		p.Context = "## Last exchanges\n\n" + strings.Join(lines, "")
		p.Sources = append(p.Sources, fmt.Sprintf("history: %d messages", len(lines)))
	}
	p.TokensUsed = a.opts.MaxTokens - remaining
	return p
}

var (
	ackTerms      = regexp.MustCompile(`(?i)^\s*(?:oui|ouais|non|yes|yeah|yep|no|nope|nah|ok|okay|d'accord|bien sûr|sure|of course|pas vraiment|not really|jamais|never|absolument|exactement|exactly)(?:[\s.,;:!?]|$)`)
	negativeTerms = regexp.MustCompile(`(?i)^\s*(?:non|no|nope|nah|pas vraiment|not really|jamais|never)(?:[\s.,;:!?]|$)`)
)

// ack describes a short yes/no reply and the question it answers.
type ack struct {
	reply    string
	question string
	negative bool
}

// resolveAck returns the question a short acknowledgment answers, if the
// companion's previous message asked one.
func resolveAck(in Input) (ack, bool) {
	msg := strings.TrimSpace(in.Message)
	if len(strings.Fields(msg)) >= 4 || !ackTerms.MatchString(msg) {
		return ack{}, false
	}
	q := lastQuestion(previousReply(in.History, in.UserID))
	if q == "" {
		return ack{}, false
	}
	return ack{reply: msg, question: q, negative: negativeTerms.MatchString(msg)}, true
}

func topicRule(in Input) string {
	if a, ok := resolveAck(in); ok {
		if a.negative {
			return fmt.Sprintf("The user answered %q to your question %q. The active subject is their no to that question: acknowledge it, do not ask it again and do not abruptly change the subject.", a.reply, a.question)
		}
		return fmt.Sprintf("The user answered %q to your question %q. The active subject is that question: build on their answer and do not abruptly change the subject.", a.reply, a.question)
	}
	if t := activeTopic(in); t != "" {
		return fmt.Sprintf("The active topic is %s. Stay on it and do not abruptly change the subject.", t)
	}
	return "Follow the user's lead and do not abruptly change the subject."
}

func activeTopic(in Input) string {
	if in.Topic.Topic != "" && in.Topic.Category != analysis.CategoryGeneral {
		return in.Topic.Topic
	}
	if in.Timeline.LastActivity != "" {
		return in.Timeline.LastActivity
	}
	if c := in.Timeline.ConversationContext; c != "" && c != string(analysis.CategoryGeneral) {
		return c
	}
	return ""
}

func activityOpener(tl timeline.Timeline) string {
	act := tl.LastActivity
	switch tl.Bucket(act) {
	case timeline.TensePast:
		return fmt.Sprintf("The last activity they mentioned is %s, already done. Ask how it went.", act)
	case timeline.TensePresent:
		return fmt.Sprintf("The last activity they mentioned is %s, in progress. Ask how it is going.", act)
	case timeline.TenseFuture:
		return fmt.Sprintf("The last activity they mentioned is %s, still planned. Ask about it without implying it happened.", act)
	}
	return fmt.Sprintf("The last activity they mentioned is %s.", act)
}

// priorTurns drops the current message from the end of history when present.
func priorTurns(history []conversation.Message, userID, message string) []conversation.Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.SenderID == userID && strings.TrimSpace(last.Content) == strings.TrimSpace(message) {
			return history[:n-1]
		}
	}
	return history
}

// previousReply returns the companion's message preceding the user's latest turn.
func previousReply(history []conversation.Message, userID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.SenderID == userID {
			continue
		}
		return m.Content
	}
	return ""
}

// lastQuestion returns the last sentence of s that ends with a question mark.
func lastQuestion(s string) string {
	end := strings.LastIndex(s, "?")
	if end < 0 {
		return ""
	}
	start := strings.LastIndexAny(s[:end], ".!?\n") + 1
	return strings.TrimSpace(s[start : end+1])
}

func topics(mems []memory.Memory) string {
	seen := make(map[string]bool, len(mems))
	var out []string
	for _, m := range mems {
		key := strings.ToLower(m.Topic)
		if m.Topic == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.Topic)
	}
	return strings.Join(out, ", ")
}

func userName(p profile.UserContext) string {
	if p.FirstName != "" {
		return p.FirstName
	}
	return "the user"
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func truncateStr(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
