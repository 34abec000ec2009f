package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"smsgate/internal/domain"
	"smsgate/internal/metrics"
	"smsgate/internal/render"
)

// CampaignResult summarizes one campaign run.
type CampaignResult struct {
	CampaignID string
	Status     domain.CampaignStatus
	Sent       int
	Failed     int
	Total      int
}

// Runner executes campaigns through the batch sender and owns their lifecycle
// transitions.
type Runner struct {
	batch  *Batch
	store  domain.Store
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewRunner(batch *Batch, store domain.Store, logger *slog.Logger) *Runner {
	return &Runner{
		batch:   batch,
		store:   store,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// RunCampaign starts a campaign from draft or scheduled state and blocks until
// it reaches a terminal status. Counts are incremented atomically in the store
// as each recipient's outcome arrives, so they are monotonically non-decreasing
// while the campaign runs and fixed once it is terminal.
func (r *Runner) RunCampaign(ctx context.Context, id string) (*CampaignResult, error) {
	c, err := r.store.LoadCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	if !c.Status.CanStart() {
		return nil, &domain.InvalidStateError{Entity: "campaign", ID: id, State: string(c.Status)}
	}

	body, err := r.resolveContent(ctx, c)
	if err != nil {
		// Content resolution failed before any send: the campaign fails and
		// the error propagates to the caller.
		if serr := r.store.UpdateCampaignStatus(ctx, id, domain.CampaignFailed); serr != nil {
			r.logger.Error("cannot mark campaign failed", "campaign", id, "err", serr)
		}
		return nil, err
	}

	if err := r.store.UpdateCampaignStatus(ctx, id, domain.CampaignRunning); err != nil {
		return nil, fmt.Errorf("mark campaign running: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.running[id] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.running, id)
		r.mu.Unlock()
	}()

	gauge := metrics.Default.Gauge("smsgate_campaigns_running", "Campaigns currently executing", "")
	gauge.Inc()
	defer gauge.Dec()

	r.logger.Info("campaign started", "campaign", id, "recipients", len(c.Recipients))

	// Count updates must land even when the run is being cancelled.
	incCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	sent, failed := 0, 0
	_, batchErr := r.batch.Send(runCtx, BulkRequest{
		Recipients: c.Recipients,
		Body:       body,
		Provider:   c.Provider,
		Sender:     c.Sender,
		OnOutcome: func(_ int, outcome *domain.SendOutcome) {
			ds, df := 0, 0
			if outcome.Success {
				ds = 1
			} else {
				df = 1
			}
			mu.Lock()
			sent += ds
			failed += df
			mu.Unlock()
			// Row-level increment keeps counts correct under concurrent
			// workers and across process instances.
			if err := r.store.IncrementCampaignCounts(incCtx, id, ds, df); err != nil {
				r.logger.Error("cannot increment campaign counts", "campaign", id, "err", err)
			}
		},
	})

	status := domain.CampaignCompleted
	if batchErr != nil {
		if runCtx.Err() != nil {
			status = domain.CampaignCancelled
		} else {
			// Pre-flight batch failure (content resolution): nothing was
			// sent, the campaign fails and the error propagates.
			if err := r.store.UpdateCampaignStatus(incCtx, id, domain.CampaignFailed); err != nil {
				r.logger.Error("cannot mark campaign failed", "campaign", id, "err", err)
			}
			return nil, batchErr
		}
	}
	if err := r.store.UpdateCampaignStatus(incCtx, id, status); err != nil {
		r.logger.Error("cannot finalize campaign status", "campaign", id, "err", err)
	}

	r.logger.Info("campaign finished",
		"campaign", id,
		"status", status,
		"sent", sent,
		"failed", failed,
	)

	return &CampaignResult{
		CampaignID: id,
		Status:     status,
		Sent:       sent,
		Failed:     failed,
		Total:      len(c.Recipients),
	}, nil
}

// CancelCampaign stops a running campaign between individual sends. Outcomes
// already completed stay intact; the campaign ends in the cancelled state.
func (r *Runner) CancelCampaign(id string) error {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()

	if !ok {
		return &domain.InvalidStateError{Entity: "campaign", ID: id, State: "not running"}
	}
	cancel()
	r.logger.Info("campaign cancellation requested", "campaign", id)
	return nil
}

// Running reports whether the campaign currently executes in this process.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// resolveContent turns the campaign's content union into a concrete body.
func (r *Runner) resolveContent(ctx context.Context, c *domain.Campaign) (string, error) {
	if err := c.Content.Validate(); err != nil {
		return "", err
	}
	switch c.Content.Kind {
	case domain.ContentLiteral:
		return c.Content.Body, nil
	case domain.ContentTemplate:
		tpl, err := r.store.GetTemplate(ctx, c.Content.TemplateKey)
		if err != nil {
			return "", fmt.Errorf("resolve campaign template %q: %w", c.Content.TemplateKey, err)
		}
		if !tpl.Active {
			return "", &domain.ValidationError{Field: "content.templateKey", Reason: "template " + tpl.Key + " is inactive"}
		}
		return render.Render(tpl.Body, c.Variables), nil
	default:
		return "", &domain.ValidationError{Field: "content.kind", Reason: "unknown content kind"}
	}
}
