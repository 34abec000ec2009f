// Package automation evaluates inbound trigger events against autoresponder
// rules, enforces per-recipient rate limits, and sends the matched reply
// through the dispatch engine.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smsgate/internal/dispatch"
	"smsgate/internal/domain"
	"smsgate/internal/metrics"
	"smsgate/internal/render"

	"github.com/google/uuid"
)

// Result is returned from every evaluation so that test and preview flows can
// inspect the outcome without a separate query.
type Result struct {
	Matched  bool
	RuleID   string
	RecordID string
	Outcome  *domain.SendOutcome
}

// Engine holds the active rule set for the lifetime of the process. Rules are
// immutable during evaluation; swapping the set means building a new Engine.
type Engine struct {
	rules    []domain.Rule
	dispatch *dispatch.Engine
	store    domain.Store
	history  domain.TriggerHistory
	logger   *slog.Logger
	now      func() time.Time
}

func New(rules []domain.Rule, disp *dispatch.Engine, store domain.Store, history domain.TriggerHistory, logger *slog.Logger) *Engine {
	return &Engine{
		rules:    rules,
		dispatch: disp,
		store:    store,
		history:  history,
		logger:   logger,
		now:      time.Now,
	}
}

// Rules returns the configured rule set.
func (e *Engine) Rules() []domain.Rule { return e.rules }

// EvaluateTrigger checks the event against all active rules. The first
// matching rule wins: one inbound event produces at most one autoresponder
// reply. A non-match is not an error. Rate-limit and cooldown rejections come
// back as *domain.RateLimitError / *domain.CooldownError with no send
// attempted; send failures come back with the error and a Result whose trigger
// record is persisted in a processed-but-failed state.
func (e *Engine) EvaluateTrigger(ctx context.Context, ev domain.TriggerEvent) (*Result, error) {
	for i := range e.rules {
		rule := e.rules[i]
		if !Matches(rule, ev) {
			continue
		}
		return e.fire(ctx, rule, ev)
	}
	return &Result{Matched: false}, nil
}

// TestRule runs one named rule end-to-end against a synthetic event,
// bypassing match evaluation of the other rules but keeping rate limiting and
// record keeping.
func (e *Engine) TestRule(ctx context.Context, ruleID, recipient string, payload map[string]string) (*Result, error) {
	for i := range e.rules {
		if e.rules[i].ID != ruleID {
			continue
		}
		ev := domain.TriggerEvent{
			Recipient: recipient,
			Type:      e.rules[i].Trigger,
			Payload:   payload,
			Timestamp: e.now(),
		}
		return e.fire(ctx, e.rules[i], ev)
	}
	return nil, fmt.Errorf("rule %s: %w", ruleID, domain.ErrNotFound)
}

func (e *Engine) fire(ctx context.Context, rule domain.Rule, ev domain.TriggerEvent) (*Result, error) {
	res := &Result{Matched: true, RuleID: rule.ID}

	if err := e.checkLimits(ctx, rule, ev.Recipient); err != nil {
		metrics.Default.Counter("smsgate_autoresponder_rejections_total", "Rate-limit and cooldown rejections",
			fmt.Sprintf(`rule=%q`, rule.ID)).Inc()
		e.logger.Info("autoresponder rejected", "rule", rule.ID, "to", ev.Recipient, "reason", err)
		return res, err
	}

	body, err := e.resolveContent(ctx, rule, ev.Payload)
	if err != nil {
		return res, err
	}

	// The record is created unprocessed before delivery so a crash between
	// send and update leaves evidence of the attempt.
	rec := &domain.TriggerRecord{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		Recipient: ev.Recipient,
		Timestamp: e.now(),
	}
	if err := e.history.SaveTriggerRecord(ctx, rec); err != nil {
		return res, fmt.Errorf("save trigger record: %w", err)
	}
	res.RecordID = rec.ID

	outcome, sendErr := e.dispatch.Send(ctx, &domain.Message{
		Recipient:   ev.Recipient,
		Sender:      rule.Sender,
		Body:        body,
		Provider:    rule.Provider,
		TemplateKey: rule.Content.TemplateKey,
	})
	if sendErr != nil {
		outcome = &domain.SendOutcome{Success: false, Err: sendErr.Error()}
	}
	res.Outcome = outcome

	update := domain.TriggerOutcome{
		Success:           outcome.Success,
		ResponseMessageID: outcome.ProviderMessageID,
		Err:               outcome.Err,
	}
	if err := e.history.UpdateTriggerRecord(ctx, rec.ID, update); err != nil {
		e.logger.Error("cannot update trigger record", "record", rec.ID, "err", err)
	}

	metrics.Default.Counter("smsgate_autoresponder_fires_total", "Autoresponder replies attempted",
		fmt.Sprintf(`rule=%q,success="%t"`, rule.ID, outcome.Success)).Inc()

	// Send failures are surfaced, but the record above is already persisted
	// as processed-and-failed: any retry is an explicit external decision.
	return res, sendErr
}

func (e *Engine) checkLimits(ctx context.Context, rule domain.Rule, recipient string) error {
	if rule.MaxPerRecipient > 0 {
		count, err := e.history.CountSuccessfulTriggers(ctx, rule.ID, recipient)
		if err != nil {
			return fmt.Errorf("count triggers: %w", err)
		}
		if count >= rule.MaxPerRecipient {
			return &domain.RateLimitError{RuleID: rule.ID, Recipient: recipient, Limit: rule.MaxPerRecipient}
		}
	}

	if rule.Cooldown > 0 {
		last, err := e.history.LastTriggerTime(ctx, rule.ID, recipient)
		if err != nil {
			return fmt.Errorf("last trigger time: %w", err)
		}
		if !last.IsZero() && e.now().Sub(last) < rule.Cooldown {
			return &domain.CooldownError{RuleID: rule.ID, Recipient: recipient, RetryAt: last.Add(rule.Cooldown)}
		}
	}
	return nil
}

func (e *Engine) resolveContent(ctx context.Context, rule domain.Rule, vars map[string]string) (string, error) {
	if err := rule.Content.Validate(); err != nil {
		return "", err
	}
	switch rule.Content.Kind {
	case domain.ContentLiteral:
		return rule.Content.Body, nil
	case domain.ContentTemplate:
		tpl, err := e.store.GetTemplate(ctx, rule.Content.TemplateKey)
		if err != nil {
			return "", fmt.Errorf("resolve rule template %q: %w", rule.Content.TemplateKey, err)
		}
		if !tpl.Active {
			return "", &domain.ValidationError{Field: "content.templateKey", Reason: "template " + tpl.Key + " is inactive"}
		}
		return render.Render(tpl.Body, vars), nil
	default:
		return "", &domain.ValidationError{Field: "content.kind", Reason: "unknown content kind"}
	}
}

// Run consumes trigger events from the bus until the context ends. Evaluation
// errors are logged, never fatal: one bad event must not stop the consumer.
func (e *Engine) Run(ctx context.Context, bus domain.EventBus) {
	events := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			res, err := e.EvaluateTrigger(ctx, ev)
			if err != nil {
				e.logger.Warn("trigger evaluation failed",
					"type", ev.Type,
					"from", ev.Recipient,
					"err", err,
				)
				continue
			}
			if res.Matched {
				e.logger.Info("autoresponder replied",
					"rule", res.RuleID,
					"to", ev.Recipient,
					"success", res.Outcome != nil && res.Outcome.Success,
				)
			}
		}
	}
}

// Matches reports whether the rule's trigger condition covers the event.
func Matches(rule domain.Rule, ev domain.TriggerEvent) bool {
	if !rule.Active || rule.Trigger != ev.Type {
		return false
	}
	switch rule.Trigger {
	case domain.TriggerKeyword:
		return matchValue(rule, ev.Payload["keyword"])
	case domain.TriggerMessage:
		return matchText(rule, ev.Payload["text"])
	case domain.TriggerMissedCall:
		// Type equality is the whole condition.
		return true
	case domain.TriggerWebhook:
		return matchValue(rule, ev.Payload["hook"])
	}
	return false
}

// matchValue compares one payload value against the rule's keyword list.
func matchValue(rule domain.Rule, value string) bool {
	if value == "" {
		return false
	}
	for _, kw := range rule.Keywords {
		v, k := value, kw
		if !rule.CaseSensitive {
			v, k = strings.ToLower(v), strings.ToLower(k)
		}
		switch rule.Match {
		case domain.MatchContains:
			if strings.Contains(v, k) {
				return true
			}
		default: // MatchExact
			if v == k {
				return true
			}
		}
	}
	return false
}

// matchText scans free-form message text. Exact mode requires a whole token to
// equal a keyword; contains mode is a substring scan.
func matchText(rule domain.Rule, text string) bool {
	if text == "" {
		return false
	}
	if rule.Match == domain.MatchContains {
		return matchValue(rule, text)
	}
	for _, token := range strings.Fields(text) {
		if matchValue(rule, token) {
			return true
		}
	}
	return false
}
