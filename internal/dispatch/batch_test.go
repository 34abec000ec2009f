package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"smsgate/internal/config"
	"smsgate/internal/domain"
	"smsgate/internal/transport"
)

func TestBatch_OneOutcomePerRecipientInOrder(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 3, testLogger())

	recipients := []string{"+1", "+2", "+3", "+4", "+5"}
	outcomes, err := b.Send(context.Background(), BulkRequest{Recipients: recipients, Body: "hi"})
	if err != nil {
		t.Fatalf("bulk send: %v", err)
	}
	if len(outcomes) != len(recipients) {
		t.Fatalf("expected %d outcomes, got %d", len(recipients), len(outcomes))
	}
	for i, out := range outcomes {
		if out == nil || !out.Success {
			t.Fatalf("recipient %d: unexpected outcome %+v", i, out)
		}
	}
}

func TestBatch_RecipientFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 2, testLogger())

	// The empty recipient fails validation inside the engine; its slot gets a
	// failed outcome while the others still send.
	recipients := []string{"+1", "", "+3"}
	outcomes, err := b.Send(context.Background(), BulkRequest{Recipients: recipients, Body: "hi"})
	if err != nil {
		t.Fatalf("bulk send: %v", err)
	}
	if !outcomes[0].Success || !outcomes[2].Success {
		t.Fatalf("valid recipients must succeed: %+v", outcomes)
	}
	if outcomes[1].Success || outcomes[1].Err == "" {
		t.Fatalf("invalid recipient must yield a failed outcome: %+v", outcomes[1])
	}
}

func TestBatch_EmptyBodyIsPreflightError(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 2, testLogger())

	if _, err := b.Send(context.Background(), BulkRequest{Recipients: []string{"+1"}}); err == nil {
		t.Fatal("expected pre-flight error for empty body")
	}
	if store.attemptCount() != 0 {
		t.Fatal("pre-flight failure must not attempt any send")
	}
}

func TestBatch_TemplateResolution(t *testing.T) {
	store := newFakeStore()
	store.SaveTemplate(context.Background(), &domain.Template{
		Key:       "welcome",
		Body:      "Hello {{name}}",
		Variables: []string{"name"},
		Active:    true,
	})
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 1, testLogger())

	outcomes, err := b.Send(context.Background(), BulkRequest{
		Recipients:  []string{"+1"},
		TemplateKey: "welcome",
		Variables:   map[string]string{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("bulk send: %v", err)
	}
	if !outcomes[0].Success {
		t.Fatalf("expected success, got %+v", outcomes[0])
	}
}

func TestBatch_MissingTemplateIsPreflightError(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 1, testLogger())

	_, err := b.Send(context.Background(), BulkRequest{Recipients: []string{"+1"}, TemplateKey: "nope"})
	if err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestBatch_InactiveTemplateIsPreflightError(t *testing.T) {
	store := newFakeStore()
	store.SaveTemplate(context.Background(), &domain.Template{Key: "old", Body: "x", Active: false})
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 1, testLogger())

	_, err := b.Send(context.Background(), BulkRequest{Recipients: []string{"+1"}, TemplateKey: "old"})
	if err == nil {
		t.Fatal("expected error for inactive template")
	}
}

func TestBatch_CancelledContextStopsCleanly(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := b.Send(ctx, BulkRequest{Recipients: []string{"+1", "+2"}, Body: "hi"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	for i, out := range outcomes {
		if out != nil {
			t.Fatalf("recipient %d must not have been attempted after cancel: %+v", i, out)
		}
	}
}

func TestBatch_CancelWhileSlotOccupiedStopsQueuedRecipients(t *testing.T) {
	store := newFakeStore()
	cfg := config.Defaults()
	cfg.General.DefaultProvider = "slow"
	cfg.Providers = map[string]config.ProviderConfig{"slow": {Enabled: true}}
	slow := &slowTransport{name: "slow", delay: 5 * time.Second}
	reg := transport.NewRegistry(cfg, testLogger())
	reg.Register("slow", func(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
		return slow
	})
	e := NewEngine(cfg, reg, store, testLogger())
	// One worker: recipient 2 queues behind recipient 1's in-flight send.
	b := NewBatch(e, store, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	outcomes, err := b.Send(ctx, BulkRequest{Recipients: []string{"+1", "+2", "+3"}, Body: "hi"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	// The cancel arrives while recipient 1 holds the only worker slot. The
	// queued recipients must never reach the provider, even though the slot
	// frees up after the cancel.
	if n := slow.started.Load(); n != 1 {
		t.Fatalf("expected exactly 1 provider send started, got %d", n)
	}
	if outcomes[0] == nil || outcomes[0].Success {
		t.Fatalf("in-flight recipient must have a failed outcome: %+v", outcomes[0])
	}
	if outcomes[1] != nil || outcomes[2] != nil {
		t.Fatalf("queued recipients must not be attempted after cancel: %+v %+v", outcomes[1], outcomes[2])
	}
}

func TestBatch_OnOutcomeCalledPerRecipient(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, []string{"alpha"})
	b := NewBatch(e, store, 4, testLogger())

	calls := make(chan int, 8)
	outcomes, err := b.Send(context.Background(), BulkRequest{
		Recipients: []string{"+1", "+2", "+3"},
		Body:       "hi",
		OnOutcome: func(i int, _ *domain.SendOutcome) {
			calls <- i
		},
	})
	if err != nil {
		t.Fatalf("bulk send: %v", err)
	}
	close(calls)

	got := 0
	for range calls {
		got++
	}
	if got != len(outcomes) {
		t.Fatalf("expected %d OnOutcome calls, got %d", len(outcomes), got)
	}
}
