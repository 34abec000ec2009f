package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"smsgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	ev := domain.TriggerEvent{
		Recipient: "+1",
		Type:      domain.TriggerKeyword,
		Payload:   map[string]string{"keyword": "HELP"},
		Timestamp: time.Now(),
	}
	b.Publish(ev)

	select {
	case got := <-b.Subscribe():
		if got.Recipient != "+1" || got.Type != domain.TriggerKeyword {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	// Must not panic on the closed channel.
	b.Publish(domain.TriggerEvent{Recipient: "+1", Type: domain.TriggerMessage})
}

func TestCloseDrainsSubscribers(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(domain.TriggerEvent{Recipient: "+1", Type: domain.TriggerMissedCall})
	b.Close()

	ch := b.Subscribe()
	if ev, ok := <-ch; !ok || ev.Recipient != "+1" {
		t.Fatalf("buffered event must survive close: %+v ok=%t", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after drain")
	}
}
