package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"smsgate/internal/domain"
	"smsgate/internal/render"
)

// BulkRequest describes one batch send across a recipient list.
type BulkRequest struct {
	Recipients  []string
	Body        string
	Provider    string
	Sender      string
	TemplateKey string            // optional: resolve body from a stored template
	Variables   map[string]string // substituted when TemplateKey is set

	// OnOutcome, when set, is invoked once per recipient as its outcome
	// becomes available. It may be called from concurrent workers.
	OnOutcome func(index int, outcome *domain.SendOutcome)
}

// Batch drives the dispatch engine across recipient lists with a bounded
// worker pool.
type Batch struct {
	engine  *Engine
	store   domain.Store
	workers int
	logger  *slog.Logger
}

func NewBatch(engine *Engine, store domain.Store, workers int, logger *slog.Logger) *Batch {
	if workers < 1 {
		workers = 1
	}
	return &Batch{
		engine:  engine,
		store:   store,
		workers: workers,
		logger:  logger,
	}
}

// Send delivers to every recipient and returns exactly one outcome per input
// recipient, in input order. A recipient's failure is converted into a failed
// outcome for that slot and never aborts the rest of the batch. The batch as a
// whole only errors for pre-flight failures (content resolution) or
// cancellation; on cancellation the slice holds nil for recipients whose send
// was never started.
func (b *Batch) Send(ctx context.Context, req BulkRequest) ([]*domain.SendOutcome, error) {
	body, err := b.resolveBody(ctx, req)
	if err != nil {
		return nil, err
	}

	outcomes := make([]*domain.SendOutcome, len(req.Recipients))
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup

	cancelled := false
	for i, recipient := range req.Recipients {
		// Check cancellation before starting each recipient's send so a
		// cancelled batch stops cleanly with completed outcomes intact.
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		sem <- struct{}{}
		// Acquiring a slot can block behind a slow send; re-check so a cancel
		// arriving during the wait never starts this recipient.
		if ctx.Err() != nil {
			<-sem
			cancelled = true
			break
		}
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := b.sendOne(ctx, recipient, body, req)
			outcomes[i] = outcome
			if req.OnOutcome != nil {
				req.OnOutcome(i, outcome)
			}
		}(i, recipient)
	}

	wg.Wait()

	if cancelled {
		return outcomes, ctx.Err()
	}
	return outcomes, nil
}

func (b *Batch) sendOne(ctx context.Context, recipient, body string, req BulkRequest) *domain.SendOutcome {
	msg := &domain.Message{
		Recipient:   recipient,
		Sender:      req.Sender,
		Body:        body,
		Provider:    req.Provider,
		TemplateKey: req.TemplateKey,
	}

	outcome, err := b.engine.Send(ctx, msg)
	if err != nil {
		b.logger.Warn("bulk recipient failed", "to", recipient, "err", err)
		return &domain.SendOutcome{Success: false, Err: err.Error()}
	}
	return outcome
}

// resolveBody returns the literal body or the rendered template body. Template
// resolution failures are pre-flight errors: nothing has been sent yet, so the
// whole batch fails.
func (b *Batch) resolveBody(ctx context.Context, req BulkRequest) (string, error) {
	if req.TemplateKey == "" {
		if req.Body == "" {
			return "", &domain.ValidationError{Field: "body", Reason: "must not be empty"}
		}
		return req.Body, nil
	}

	tpl, err := b.store.GetTemplate(ctx, req.TemplateKey)
	if err != nil {
		return "", err
	}
	if !tpl.Active {
		return "", &domain.ValidationError{Field: "templateKey", Reason: "template " + tpl.Key + " is inactive"}
	}
	return render.Render(tpl.Body, req.Variables), nil
}
