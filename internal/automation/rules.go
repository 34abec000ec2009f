package automation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smsgate/internal/domain"

	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML schema of one autoresponder rule definition.
type ruleFile struct {
	Name          string   `yaml:"name"`
	Trigger       string   `yaml:"trigger"`
	Keywords      []string `yaml:"keywords"`
	Match         string   `yaml:"match"` // exact | contains
	CaseSensitive bool     `yaml:"caseSensitive"`
	Response      struct {
		Body     string `yaml:"body"`
		Template string `yaml:"template"`
	} `yaml:"response"`
	Provider        string `yaml:"provider"`
	Sender          string `yaml:"sender"`
	MaxPerRecipient int    `yaml:"maxPerRecipient"`
	Cooldown        string `yaml:"cooldown"` // Go duration string, e.g. "60s"
	Active          *bool  `yaml:"active"`   // default true
}

// LoadRules reads autoresponder rule definitions from YAML files in dir.
// Files that cannot be read or parsed are skipped with a warning so one broken
// rule does not take down the rest.
func LoadRules(dir string, logger *slog.Logger) ([]domain.Rule, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rules directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var rules []domain.Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read rule file", "path", path, "err", err)
			continue
		}

		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			logger.Warn("cannot parse rule file", "path", path, "err", err)
			continue
		}

		rule, err := rf.toRule(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			logger.Warn("invalid rule, skipping", "path", path, "err", err)
			continue
		}

		logger.Info("loaded autoresponder rule", "rule", rule.ID, "trigger", rule.Trigger)
		rules = append(rules, rule)
	}

	return rules, nil
}

func (rf ruleFile) toRule(fallbackName string) (domain.Rule, error) {
	rule := domain.Rule{
		Name:            rf.Name,
		Keywords:        rf.Keywords,
		CaseSensitive:   rf.CaseSensitive,
		Provider:        rf.Provider,
		Sender:          rf.Sender,
		MaxPerRecipient: rf.MaxPerRecipient,
		Active:          true,
	}
	if rule.Name == "" {
		rule.Name = fallbackName
	}
	rule.ID = rule.Name

	switch domain.TriggerType(rf.Trigger) {
	case domain.TriggerKeyword, domain.TriggerMessage, domain.TriggerMissedCall, domain.TriggerWebhook:
		rule.Trigger = domain.TriggerType(rf.Trigger)
	default:
		return rule, fmt.Errorf("unknown trigger type %q", rf.Trigger)
	}

	switch domain.MatchMode(rf.Match) {
	case domain.MatchContains:
		rule.Match = domain.MatchContains
	case domain.MatchExact, "":
		rule.Match = domain.MatchExact
	default:
		return rule, fmt.Errorf("unknown match mode %q", rf.Match)
	}

	switch rule.Trigger {
	case domain.TriggerKeyword, domain.TriggerMessage, domain.TriggerWebhook:
		if len(rule.Keywords) == 0 {
			return rule, fmt.Errorf("trigger %s requires keywords", rule.Trigger)
		}
	}

	// A configured template key takes precedence over a literal body.
	if rf.Response.Template != "" {
		rule.Content = domain.TemplateContent(rf.Response.Template)
	} else {
		rule.Content = domain.LiteralContent(rf.Response.Body)
	}
	if err := rule.Content.Validate(); err != nil {
		return rule, err
	}

	if rf.Cooldown != "" {
		d, err := time.ParseDuration(rf.Cooldown)
		if err != nil {
			return rule, fmt.Errorf("cooldown: %w", err)
		}
		if d < 0 {
			return rule, fmt.Errorf("cooldown must not be negative")
		}
		rule.Cooldown = d
	}
	if rf.MaxPerRecipient < 0 {
		return rule, fmt.Errorf("maxPerRecipient must not be negative")
	}
	if rf.Active != nil {
		rule.Active = *rf.Active
	}

	return rule, nil
}
