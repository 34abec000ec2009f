package automation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"smsgate/internal/config"
	"smsgate/internal/dispatch"
	"smsgate/internal/domain"
	"smsgate/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is an in-memory domain.Store for automation tests.
type memStore struct {
	mu        sync.Mutex
	attempts  int
	templates map[string]*domain.Template
	records   map[string]*domain.TriggerRecord
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[string]*domain.Template),
		records:   make(map[string]*domain.TriggerRecord),
	}
}

func (s *memStore) RecordSendAttempt(_ context.Context, _ *domain.Message, _ *domain.SendOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return nil
}

func (s *memStore) SaveTemplate(_ context.Context, tpl *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.Key] = tpl
	return nil
}

func (s *memStore) GetTemplate(_ context.Context, key string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tpl, nil
}

func (s *memStore) SaveCampaign(context.Context, *domain.Campaign) error { return nil }
func (s *memStore) LoadCampaign(context.Context, string) (*domain.Campaign, error) {
	return nil, domain.ErrNotFound
}
func (s *memStore) UpdateCampaignStatus(context.Context, string, domain.CampaignStatus) error {
	return nil
}
func (s *memStore) IncrementCampaignCounts(context.Context, string, int, int) error { return nil }

func (s *memStore) SaveTriggerRecord(_ context.Context, rec *domain.TriggerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) UpdateTriggerRecord(_ context.Context, id string, outcome domain.TriggerOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Processed = true
	rec.Success = outcome.Success
	rec.ResponseMessageID = outcome.ResponseMessageID
	rec.Err = outcome.Err
	return nil
}

func (s *memStore) CountSuccessfulTriggers(_ context.Context, ruleID, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.RuleID == ruleID && rec.Recipient == recipient && rec.Processed && rec.Success {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LastTriggerTime(_ context.Context, ruleID, recipient string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, rec := range s.records {
		if rec.RuleID == ruleID && rec.Recipient == recipient && rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	return last, nil
}

func (s *memStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *memStore) record(id string) *domain.TriggerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// newTestDispatch builds a dispatch engine with a single mock provider.
func newTestDispatch(store domain.Store, fail bool) *dispatch.Engine {
	cfg := config.Defaults()
	cfg.General.DefaultProvider = "mock"
	cfg.Providers = map[string]config.ProviderConfig{"mock": {Enabled: true, Sender: "AUTO"}}
	reg := transport.NewRegistry(cfg, testLogger())
	reg.Register("mock", func(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
		return transport.NewMock(transport.MockConfig{Fail: fail, Logger: logger})
	})
	return dispatch.NewEngine(cfg, reg, store, testLogger())
}

func helpRule() domain.Rule {
	return domain.Rule{
		ID:       "help",
		Name:     "help",
		Trigger:  domain.TriggerKeyword,
		Keywords: []string{"HELP"},
		Match:    domain.MatchExact,
		Content:  domain.LiteralContent("Reply STOP to unsubscribe"),
		Active:   true,
	}
}

func keywordEvent(recipient, keyword string) domain.TriggerEvent {
	return domain.TriggerEvent{
		Recipient: recipient,
		Type:      domain.TriggerKeyword,
		Payload:   map[string]string{"keyword": keyword},
		Timestamp: time.Now(),
	}
}

// --- Matching ---

func TestMatches_KeywordCaseInsensitive(t *testing.T) {
	rule := helpRule()
	if !Matches(rule, keywordEvent("+1", "help")) {
		t.Fatal("case-insensitive rule must match lowercase payload")
	}
}

func TestMatches_KeywordCaseSensitive(t *testing.T) {
	rule := helpRule()
	rule.CaseSensitive = true
	if Matches(rule, keywordEvent("+1", "help")) {
		t.Fatal("case-sensitive HELP must not match lowercase help")
	}
	if !Matches(rule, keywordEvent("+1", "HELP")) {
		t.Fatal("case-sensitive HELP must match HELP")
	}
}

func TestMatches_TypeMismatch(t *testing.T) {
	rule := helpRule()
	ev := domain.TriggerEvent{
		Recipient: "+1",
		Type:      domain.TriggerMissedCall,
		Payload:   map[string]string{"keyword": "HELP"},
	}
	if Matches(rule, ev) {
		t.Fatal("trigger types must be equal for a match")
	}
}

func TestMatches_InactiveRule(t *testing.T) {
	rule := helpRule()
	rule.Active = false
	if Matches(rule, keywordEvent("+1", "HELP")) {
		t.Fatal("inactive rules never match")
	}
}

func TestMatches_MessageTextModes(t *testing.T) {
	rule := helpRule()
	rule.Trigger = domain.TriggerMessage

	ev := domain.TriggerEvent{
		Recipient: "+1",
		Type:      domain.TriggerMessage,
		Payload:   map[string]string{"text": "please send help now"},
	}
	if !Matches(rule, ev) {
		t.Fatal("exact mode must match a whole token")
	}

	ev.Payload["text"] = "i am helpless"
	if Matches(rule, ev) {
		t.Fatal("exact mode must not match inside a longer token")
	}

	rule.Match = domain.MatchContains
	if !Matches(rule, ev) {
		t.Fatal("contains mode must match a substring")
	}
}

func TestMatches_MissedCallMatchesOnType(t *testing.T) {
	rule := helpRule()
	rule.Trigger = domain.TriggerMissedCall
	rule.Keywords = nil
	ev := domain.TriggerEvent{Recipient: "+1", Type: domain.TriggerMissedCall}
	if !Matches(rule, ev) {
		t.Fatal("missed-call rules match on type alone")
	}
}

func TestMatches_Webhook(t *testing.T) {
	rule := helpRule()
	rule.Trigger = domain.TriggerWebhook
	rule.Keywords = []string{"signup"}
	ev := domain.TriggerEvent{
		Recipient: "+1",
		Type:      domain.TriggerWebhook,
		Payload:   map[string]string{"hook": "signup"},
	}
	if !Matches(rule, ev) {
		t.Fatal("webhook rule must match its hook name")
	}
	ev.Payload["hook"] = "other"
	if Matches(rule, ev) {
		t.Fatal("webhook rule must not match a different hook")
	}
}

// --- Evaluation ---

func TestEvaluateTrigger_MatchSendsReply(t *testing.T) {
	store := newMemStore()
	e := New([]domain.Rule{helpRule()}, newTestDispatch(store, false), store, store, testLogger())

	res, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "help"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Matched || res.RuleID != "help" {
		t.Fatalf("expected help rule match: %+v", res)
	}
	if res.Outcome == nil || !res.Outcome.Success {
		t.Fatalf("expected successful outcome: %+v", res.Outcome)
	}

	rec := store.record(res.RecordID)
	if rec == nil || !rec.Processed || !rec.Success {
		t.Fatalf("trigger record must be processed and successful: %+v", rec)
	}
	if rec.ResponseMessageID == "" {
		t.Fatal("record must carry the provider message id")
	}
}

func TestEvaluateTrigger_NoMatchIsNotAnError(t *testing.T) {
	store := newMemStore()
	e := New([]domain.Rule{helpRule()}, newTestDispatch(store, false), store, store, testLogger())

	res, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "PRICING"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Matched {
		t.Fatal("expected no match")
	}
	if store.attemptCount() != 0 {
		t.Fatal("no send may happen without a match")
	}
}

func TestEvaluateTrigger_FirstMatchWins(t *testing.T) {
	store := newMemStore()
	second := helpRule()
	second.ID = "help-2"
	second.Content = domain.LiteralContent("other reply")
	e := New([]domain.Rule{helpRule(), second}, newTestDispatch(store, false), store, store, testLogger())

	res, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.RuleID != "help" {
		t.Fatalf("first matching rule must win, got %s", res.RuleID)
	}
	if store.attemptCount() != 1 {
		t.Fatalf("exactly one reply per event, got %d attempts", store.attemptCount())
	}
}

func TestEvaluateTrigger_RateLimit(t *testing.T) {
	store := newMemStore()
	rule := helpRule()
	rule.MaxPerRecipient = 2
	e := New([]domain.Rule{rule}, newTestDispatch(store, false), store, store, testLogger())

	for i := 0; i < 2; i++ {
		if _, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP")); err != nil {
			t.Fatalf("trigger %d: %v", i+1, err)
		}
	}

	attempts := store.attemptCount()
	_, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP"))

	var rerr *domain.RateLimitError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if store.attemptCount() != attempts {
		t.Fatal("rate-limited trigger must not attempt a send")
	}

	// A different recipient is unaffected.
	if _, err := e.EvaluateTrigger(context.Background(), keywordEvent("+2", "HELP")); err != nil {
		t.Fatalf("other recipient: %v", err)
	}
}

func TestEvaluateTrigger_Cooldown(t *testing.T) {
	store := newMemStore()
	rule := helpRule()
	rule.Cooldown = 60 * time.Second
	e := New([]domain.Rule{rule}, newTestDispatch(store, false), store, store, testLogger())

	base := time.Now()
	e.now = func() time.Time { return base }
	if _, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP")); err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	e.now = func() time.Time { return base.Add(30 * time.Second) }
	_, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP"))
	var cerr *domain.CooldownError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CooldownError after 30s, got %v", err)
	}

	e.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP")); err != nil {
		t.Fatalf("trigger after cooldown: %v", err)
	}
}

func TestEvaluateTrigger_SendFailureRecordedAndSurfaced(t *testing.T) {
	store := newMemStore()
	e := New([]domain.Rule{helpRule()}, newTestDispatch(store, true), store, store, testLogger())

	res, err := e.EvaluateTrigger(context.Background(), keywordEvent("+1", "HELP"))
	if err == nil {
		t.Fatal("expected surfaced send failure")
	}
	if res.Outcome == nil || res.Outcome.Success {
		t.Fatalf("outcome must be returned and failed: %+v", res.Outcome)
	}

	rec := store.record(res.RecordID)
	if rec == nil || !rec.Processed || rec.Success || rec.Err == "" {
		t.Fatalf("record must be processed-but-failed: %+v", rec)
	}
}

func TestEvaluateTrigger_TemplateContent(t *testing.T) {
	store := newMemStore()
	store.SaveTemplate(context.Background(), &domain.Template{
		Key:       "order-status",
		Body:      "Order {{order}} is {{status}}",
		Variables: []string{"order", "status"},
		Active:    true,
	})
	rule := helpRule()
	rule.Trigger = domain.TriggerWebhook
	rule.Keywords = []string{"order-update"}
	rule.Content = domain.TemplateContent("order-status")
	e := New([]domain.Rule{rule}, newTestDispatch(store, false), store, store, testLogger())

	res, err := e.EvaluateTrigger(context.Background(), domain.TriggerEvent{
		Recipient: "+1",
		Type:      domain.TriggerWebhook,
		Payload:   map[string]string{"hook": "order-update", "order": "42", "status": "shipped"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Outcome.Success {
		t.Fatalf("expected successful templated reply: %+v", res.Outcome)
	}
}

// --- TestRule ---

func TestTestRule_RunsNamedRule(t *testing.T) {
	store := newMemStore()
	e := New([]domain.Rule{helpRule()}, newTestDispatch(store, false), store, store, testLogger())

	res, err := e.TestRule(context.Background(), "help", "+1", map[string]string{"keyword": "HELP"})
	if err != nil {
		t.Fatalf("test rule: %v", err)
	}
	if !res.Matched || res.Outcome == nil || !res.Outcome.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTestRule_UnknownRule(t *testing.T) {
	store := newMemStore()
	e := New(nil, newTestDispatch(store, false), store, store, testLogger())

	if _, err := e.TestRule(context.Background(), "ghost", "+1", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
