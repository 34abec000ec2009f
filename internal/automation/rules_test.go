package automation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"smsgate/internal/domain"
)

func writeRule(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	writeRule(t, dir, "help.yaml", `
name: help
trigger: keyword
keywords: [HELP, INFO]
response:
  body: "Reply STOP to unsubscribe"
maxPerRecipient: 3
cooldown: 60s
`)
	writeRule(t, dir, "welcome.yml", `
trigger: missed_call
response:
  template: welcome-back
active: false
`)
	// Broken files are skipped, not fatal.
	writeRule(t, dir, "broken.yaml", `trigger: [not, a, string`)
	writeRule(t, dir, "badtrigger.yaml", `
trigger: carrier_pigeon
response:
  body: hi
`)
	writeRule(t, dir, "notes.txt", "not a rule")

	rules, err := LoadRules(dir, testLogger())
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	byID := make(map[string]domain.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	help, ok := byID["help"]
	if !ok {
		t.Fatal("missing help rule")
	}
	if help.Trigger != domain.TriggerKeyword || help.Match != domain.MatchExact {
		t.Fatalf("unexpected help rule: %+v", help)
	}
	if len(help.Keywords) != 2 || help.MaxPerRecipient != 3 || help.Cooldown != 60*time.Second {
		t.Fatalf("unexpected help limits: %+v", help)
	}
	if help.Content.Kind != domain.ContentLiteral || !help.Active {
		t.Fatalf("unexpected help content: %+v", help)
	}

	// ID falls back to the file name when the rule has no name.
	welcome, ok := byID["welcome"]
	if !ok {
		t.Fatal("missing welcome rule")
	}
	if welcome.Trigger != domain.TriggerMissedCall || welcome.Active {
		t.Fatalf("unexpected welcome rule: %+v", welcome)
	}
	if welcome.Content.Kind != domain.ContentTemplate || welcome.Content.TemplateKey != "welcome-back" {
		t.Fatalf("unexpected welcome content: %+v", welcome)
	}
}

func TestLoadRules_MissingDir(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("missing dir must not be an error: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules, got %d", len(rules))
	}
}

func TestToRule_KeywordsRequired(t *testing.T) {
	rf := ruleFile{Trigger: "keyword"}
	rf.Response.Body = "hi"
	if _, err := rf.toRule("x"); err == nil {
		t.Fatal("keyword trigger without keywords must be rejected")
	}
}

func TestToRule_TemplatePrecedence(t *testing.T) {
	rf := ruleFile{Trigger: "missed_call"}
	rf.Response.Body = "literal"
	rf.Response.Template = "tpl"
	rule, err := rf.toRule("x")
	if err != nil {
		t.Fatalf("to rule: %v", err)
	}
	if rule.Content.Kind != domain.ContentTemplate || rule.Content.TemplateKey != "tpl" {
		t.Fatalf("template must win over body: %+v", rule.Content)
	}
}

func TestToRule_BadCooldown(t *testing.T) {
	rf := ruleFile{Trigger: "missed_call", Cooldown: "soon"}
	rf.Response.Body = "hi"
	if _, err := rf.toRule("x"); err == nil {
		t.Fatal("unparseable cooldown must be rejected")
	}
}
