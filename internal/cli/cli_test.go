package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// setupEnv points storage at a temp dir and disables the network-backed providers.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COMPANION_STORAGE_PATH", filepath.Join(dir, "companion.db"))
	t.Setenv("COMPANION_GENERATOR_PROVIDER", providerNone)
	t.Setenv("COMPANION_EMBEDDING_PROVIDER", providerNone)
	t.Setenv("COMPANION_STORAGE_POSTGRES_DSN", "")
	t.Setenv("COMPANION_LOG_LEVEL", "disabled")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	return filepath.Join(dir, "config.toml")
}

func run(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath, "--user", "jeanne"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, cfgPath, stdin, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestVersion(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "version")
	if !strings.HasPrefix(out, "companion dev") {
		t.Errorf("version output: %q", out)
	}
}

func TestAnalyze_PrintsJSON(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "analyze", "My cousin had a baby yesterday!")

	var got map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	for _, k := range []string{"analysis", "topic"} {
		if _, ok := got[k]; !ok {
			t.Errorf("missing %q in %s", k, out)
		}
	}
}

func TestSay_FallsBackWithoutGenerator(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "say", "My cousin had a baby yesterday!")
	want := "That is big news about your cousin's baby. How are you feeling about it?"
	if strings.TrimSpace(out) != want {
		t.Errorf("say: got %q, want %q", out, want)
	}

	mems := mustRun(t, cfg, "", "memories")
	if !strings.Contains(mems, "your cousin's baby") {
		t.Errorf("the turn should have been remembered, got:\n%s", mems)
	}
}

func TestSay_RequiresMessage(t *testing.T) {
	cfg := setupEnv(t)
	if _, err := run(t, cfg, "", "say"); err == nil {
		t.Error("expected an error without a message")
	}
}

func TestMemories_Empty(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "memories")
	if !strings.Contains(out, "No memories stored.") {
		t.Errorf("got %q", out)
	}
}

var idPattern = regexp.MustCompile(`id: ([0-9a-f-]{36})`)

func TestRememberAndForget(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "remember", "I love my garden roses", "--topic", "your garden", "--importance", "7")
	if !strings.Contains(out, "your garden: I love my garden roses") {
		t.Fatalf("remember output: %q", out)
	}

	again := mustRun(t, cfg, "", "remember", "I love my garden roses", "--topic", "your garden", "--importance", "7")
	if !strings.Contains(again, "Already remembered recently") {
		t.Errorf("duplicate should be rejected, got %q", again)
	}

	m := idPattern.FindStringSubmatch(mustRun(t, cfg, "", "memories"))
	if m == nil {
		t.Fatal("no memory id listed")
	}
	if out := mustRun(t, cfg, "", "forget", "--id", m[1]); !strings.Contains(out, "Deleted memory "+m[1]) {
		t.Errorf("forget output: %q", out)
	}
	if _, err := run(t, cfg, "", "forget", "--id", m[1]); err == nil {
		t.Error("forgetting an unknown id should fail")
	}
	if out := mustRun(t, cfg, "", "memories"); !strings.Contains(out, "No memories stored.") {
		t.Errorf("memories after forget: %q", out)
	}
}

func TestForget_AllNeedsConfirmation(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "", "remember", "My granddaughter Rose starts school", "--topic", "your granddaughter", "--importance", "8")
	mustRun(t, cfg, "", "remember", "I have a doctor appointment", "--topic", "your health", "--importance", "8")

	if out := mustRun(t, cfg, "n\n", "forget", "--all"); !strings.Contains(out, "Aborted.") {
		t.Errorf("declined confirmation: %q", out)
	}
	if out := mustRun(t, cfg, "y\n", "forget", "--all"); !strings.Contains(out, "Deleted 2 memories.") {
		t.Errorf("confirmed: %q", out)
	}
}

func TestForget_Interactive(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "", "remember", "I love my garden roses", "--topic", "your garden", "--importance", "7")

	out := mustRun(t, cfg, "1\n", "forget")
	if !strings.Contains(out, `Deleted: "I love my garden roses"`) {
		t.Errorf("interactive forget: %q", out)
	}
	if _, err := run(t, cfg, "x\n", "forget"); err != nil {
		t.Errorf("empty list should not fail: %v", err)
	}
}

func TestPrompt_IsDryRun(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "prompt", "My cousin had a baby yesterday!")
	for _, want := range []string{"=== System Prompt ===", "=== Context ===", "=== User Message ===", "My cousin had a baby yesterday!", "tokens"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt output missing %q:\n%s", want, out)
		}
	}
	if mems := mustRun(t, cfg, "", "memories"); !strings.Contains(mems, "No memories stored.") {
		t.Errorf("prompt must not store anything, got:\n%s", mems)
	}
	if _, err := run(t, cfg, "", "prompt", "hi", "--section", "bogus"); err == nil {
		t.Error("unknown section should fail")
	}
}

func TestChat_PipedInput(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "My cousin had a baby yesterday!\n\n/quit\nnever read\n", "chat", "--no-auto-start")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one reply, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "léa> ") {
		t.Errorf("reply line: %q", lines[0])
	}
}

func TestChat_AutoStartSpeaksFirst(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "chat")
	if !strings.HasPrefix(out, "léa> ") {
		t.Errorf("companion should open the conversation, got %q", out)
	}
}

func TestProfile_SetName(t *testing.T) {
	cfg := setupEnv(t)
	if out := mustRun(t, cfg, "", "profile"); !strings.Contains(out, "Nothing notable") {
		t.Errorf("empty profile: %q", out)
	}
	out := mustRun(t, cfg, "", "profile", "--name", "Jeanne")
	if !strings.Contains(out, "**Name:** Jeanne") {
		t.Errorf("profile: %q", out)
	}
}

func TestTimeline_JSON(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "timeline", "--json")
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("timeline --json: %v\n%s", err, out)
	}
}

func TestSweep(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "", "say", "I love knitting scarves")

	out := mustRun(t, cfg, "", "sweep", "--force")
	if !strings.Contains(out, "Swept 1 conversations for jeanne") {
		t.Errorf("sweep: %q", out)
	}
}

func TestSweep_AllWithoutUsers(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "sweep", "--all")
	if !strings.Contains(out, "No users known yet.") {
		t.Errorf("sweep --all: %q", out)
	}
}

func TestStatus(t *testing.T) {
	cfg := setupEnv(t)
	out := mustRun(t, cfg, "", "status")
	for _, want := range []string{"User:          jeanne", "Generator:     none", "Embeddings:    off", "Remote store:  off"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestSetup_WritesConfig(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "5\n4\nMarie\nLyon\n", "setup")

	out := mustRun(t, cfg, "", "status")
	if !strings.Contains(out, "Generator:     none") {
		t.Errorf("status after setup: %q", out)
	}
}

func TestSetup_Gemini(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "4\ngm-test\n4\n\n\n", "setup")

	raw, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`provider = "gemini"`, `gemini = "gm-test"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("config missing %q:\n%s", want, raw)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KB",
		1536:        "1.5 KB",
		1024 * 1024: "1.0 MB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestExport(t *testing.T) {
	cfg := setupEnv(t)
	mustRun(t, cfg, "", "remember", "I love my garden roses", "--topic", "your garden", "--importance", "7")

	md := mustRun(t, cfg, "", "export")
	if !strings.HasPrefix(md, "# jeanne") || !strings.Contains(md, "I love my garden roses") {
		t.Errorf("markdown export:\n%s", md)
	}

	path := filepath.Join(t.TempDir(), "out.json")
	mustRun(t, cfg, "", "export", "--format", "json", "--output", path)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["user_id"] != "jeanne" {
		t.Errorf("user_id: %v", got["user_id"])
	}

	if _, err := run(t, cfg, "", "export", "--format", "claude"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestApplyConfig_ReloadsPromptSettings(t *testing.T) {
	cfgPath := setupEnv(t)
	flags := &globalFlags{config: cfgPath, user: "jeanne", companion: "lea"}
	a, err := openApp(context.Background(), flags, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	cfg := a.cfg
	cfg.Prompt.CompanionName = "Marie"
	cfg.Prompt.Location = "Lyon"
	cfg.Prompt.TimeZone = "Europe/Paris"
	a.applyConfig(cfg)

	got := a.engine.Ambient()
	if got.CompanionName != "Marie" || got.Location != "Lyon" || got.TimeZone != "Europe/Paris" {
		t.Errorf("ambient after reload: %+v", got)
	}
}
