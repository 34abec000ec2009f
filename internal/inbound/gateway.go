package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"smsgate/internal/config"
	"smsgate/internal/domain"
	"smsgate/internal/metrics"
)

// Gateway is the HTTP surface for inbound traffic: carrier SMS callbacks,
// missed-call notifications and application webhooks. It converts requests
// into trigger events and publishes them on the bus; delivery of any reply is
// the automation engine's job, so every handler returns 202 without waiting.
type Gateway struct {
	cfg    config.GatewayConfig
	bus    domain.EventBus
	logger *slog.Logger

	metricsEnabled bool
}

func New(cfg config.GatewayConfig, metricsEnabled bool, bus domain.EventBus, logger *slog.Logger) *Gateway {
	return &Gateway{cfg: cfg, bus: bus, logger: logger, metricsEnabled: metricsEnabled}
}

// Router builds the chi router. Exposed separately from Serve for tests.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if g.metricsEnabled {
		r.Get("/metrics", metrics.Default.Handler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(g.requireSecret)
		r.Post("/inbound/sms", g.handleSMS)
		r.Post("/inbound/call", g.handleMissedCall)
		r.Post("/hooks/{name}", g.handleWebhook)
	})

	return r
}

// Serve runs the gateway until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("inbound gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// requireSecret rejects requests without the configured webhook secret.
// When no secret is configured the gateway is open (local deployments).
func (g *Gateway) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.WebhookSecret != "" && r.Header.Get("X-Webhook-Secret") != g.cfg.WebhookSecret {
			jsonError(w, "invalid webhook secret", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type inboundSMSReq struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// handleSMS publishes two events per inbound message: a keyword event carrying
// the first word, and a message event carrying the full text. Keyword rules
// and message rules are evaluated independently.
// POST /inbound/sms
func (g *Gateway) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req inboundSMSReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		jsonError(w, "from is required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	text := strings.TrimSpace(req.Text)
	if fields := strings.Fields(text); len(fields) > 0 {
		g.bus.Publish(domain.TriggerEvent{
			Recipient: req.From,
			Type:      domain.TriggerKeyword,
			Payload:   map[string]string{"keyword": fields[0], "text": text},
			Timestamp: now,
		})
	}
	g.bus.Publish(domain.TriggerEvent{
		Recipient: req.From,
		Type:      domain.TriggerMessage,
		Payload:   map[string]string{"text": text},
		Timestamp: now,
	})

	metrics.Default.Counter("smsgate_inbound_total", "Inbound requests accepted", `kind="sms"`).Inc()
	accepted(w)
}

type inboundCallReq struct {
	From string `json:"from"`
}

// POST /inbound/call
func (g *Gateway) handleMissedCall(w http.ResponseWriter, r *http.Request) {
	var req inboundCallReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		jsonError(w, "from is required", http.StatusBadRequest)
		return
	}

	g.bus.Publish(domain.TriggerEvent{
		Recipient: req.From,
		Type:      domain.TriggerMissedCall,
		Timestamp: time.Now(),
	})

	metrics.Default.Counter("smsgate_inbound_total", "Inbound requests accepted", `kind="call"`).Inc()
	accepted(w)
}

// handleWebhook publishes a webhook event named by the URL. The JSON body's
// string fields become the event payload and double as template variables for
// any templated reply. A "recipient" field is required so the rule knows who
// to message.
// POST /hooks/{name}
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	recipient := body["recipient"]
	if recipient == "" {
		jsonError(w, "recipient is required", http.StatusBadRequest)
		return
	}

	payload := make(map[string]string, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["hook"] = name

	g.bus.Publish(domain.TriggerEvent{
		Recipient: recipient,
		Type:      domain.TriggerWebhook,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	metrics.Default.Counter("smsgate_inbound_total", "Inbound requests accepted", `kind="webhook"`).Inc()
	accepted(w)
}

func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
