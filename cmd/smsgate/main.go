package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"smsgate/internal/automation"
	"smsgate/internal/bus"
	"smsgate/internal/config"
	"smsgate/internal/dispatch"
	"smsgate/internal/domain"
	"smsgate/internal/inbound"
	"smsgate/internal/render"
	"smsgate/internal/store"
	"smsgate/internal/transport"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env overrides are optional.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "smsgate",
		Short: "smsgate: multi-provider SMS dispatch gateway",
		Long:  "smsgate sends SMS through multiple providers with failover, runs bulk campaigns, and answers inbound messages with configurable autoresponder rules.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.smsgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(bulkCmd())
	root.AddCommand(campaignCmd())
	root.AddCommand(templateCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w (run 'smsgate init' first)", cfgPath, err)
	}
	setupLogger(cfg)
	return cfg, nil
}

// setupLogger rebuilds the global logger from config: level plus optional file
// output.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = f
			}
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

func buildEngine(cfg *config.Config, st domain.Store) *dispatch.Engine {
	registry := transport.NewRegistry(cfg, logger)
	return dispatch.NewEngine(cfg, registry, st, logger)
}

// parseVars turns repeated --var key=value flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// readRecipients merges --to values with an optional file of one number per
// line. Blank lines and #-comments are ignored.
func readRecipients(to []string, file string) ([]string, error) {
	recipients := append([]string(nil), to...)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read recipients file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			recipients = append(recipients, line)
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients: use --to or --file")
	}
	return recipients, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, database directory and rules directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Automation.RulesDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "rules", cfg.Automation.RulesDir)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		to       string
		message  string
		tplKey   string
		provider string
		sender   string
		varFlags []string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single SMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			body := message
			if tplKey != "" {
				vars, err := parseVars(varFlags)
				if err != nil {
					return err
				}
				tpl, err := st.GetTemplate(ctx, tplKey)
				if err != nil {
					return fmt.Errorf("template %q: %w", tplKey, err)
				}
				if !tpl.Active {
					return fmt.Errorf("template %q is inactive", tplKey)
				}
				if v := render.ValidateVariables(vars, tpl.Variables); !v.IsValid {
					return fmt.Errorf("missing template variables: %s", strings.Join(v.Missing, ", "))
				}
				body = render.Render(tpl.Body, vars)
			}

			engine := buildEngine(cfg, st)
			outcome, err := engine.Send(ctx, &domain.Message{
				Recipient:   to,
				Sender:      sender,
				Body:        body,
				Provider:    provider,
				TemplateKey: tplKey,
			})
			if err != nil {
				return err
			}

			fmt.Printf("sent via %s: id=%s", outcome.Provider, outcome.ProviderMessageID)
			if outcome.Cost != "" {
				fmt.Printf(" cost=%s", outcome.Cost)
			}
			fmt.Printf(" segments=%d\n", render.EstimateSegments(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient number (required)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message body")
	cmd.Flags().StringVar(&tplKey, "template", "", "template key (instead of --message)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to try first")
	cmd.Flags().StringVar(&sender, "sender", "", "sender id override")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "template variable key=value (repeatable)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func bulkCmd() *cobra.Command {
	var (
		to       []string
		file     string
		message  string
		tplKey   string
		provider string
		sender   string
		varFlags []string
	)
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Send one message to many recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			recipients, err := readRecipients(to, file)
			if err != nil {
				return err
			}
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := buildEngine(cfg, st)
			batch := dispatch.NewBatch(engine, st, cfg.General.MaxConcurrentSends, logger)
			outcomes, err := batch.Send(ctx, dispatch.BulkRequest{
				Recipients:  recipients,
				Body:        message,
				Provider:    provider,
				Sender:      sender,
				TemplateKey: tplKey,
				Variables:   vars,
			})
			if err != nil {
				logger.Warn("bulk send interrupted", "err", err)
			}

			sent, failed := 0, 0
			for i, out := range outcomes {
				if out == nil {
					continue // never attempted (cancelled)
				}
				if out.Success {
					sent++
				} else {
					failed++
					fmt.Printf("failed %s: %s\n", recipients[i], out.Err)
				}
			}
			fmt.Printf("bulk done: %d sent, %d failed, %d total\n", sent, failed, len(recipients))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "recipient number (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one recipient per line")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message body")
	cmd.Flags().StringVar(&tplKey, "template", "", "template key (instead of --message)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to try first")
	cmd.Flags().StringVar(&sender, "sender", "", "sender id override")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "template variable key=value (repeatable)")
	return cmd
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Create, run and cancel bulk campaigns",
	}
	cmd.AddCommand(campaignCreateCmd())
	cmd.AddCommand(campaignRunCmd())
	cmd.AddCommand(campaignCancelCmd())
	cmd.AddCommand(campaignStatusCmd())
	return cmd
}

func campaignCreateCmd() *cobra.Command {
	var (
		name     string
		to       []string
		file     string
		message  string
		tplKey   string
		provider string
		sender   string
		varFlags []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			recipients, err := readRecipients(to, file)
			if err != nil {
				return err
			}
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}

			content := domain.LiteralContent(message)
			if tplKey != "" {
				content = domain.TemplateContent(tplKey)
			}
			if err := content.Validate(); err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			c := &domain.Campaign{
				ID:         uuid.NewString(),
				Name:       name,
				Content:    content,
				Variables:  vars,
				Provider:   provider,
				Sender:     sender,
				Recipients: recipients,
				Status:     domain.CampaignDraft,
				Total:      len(recipients),
			}
			if err := st.SaveCampaign(context.Background(), c); err != nil {
				return err
			}
			fmt.Printf("campaign created: %s (%d recipients)\n", c.ID, c.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "campaign name")
	cmd.Flags().StringArrayVar(&to, "to", nil, "recipient number (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one recipient per line")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message body")
	cmd.Flags().StringVar(&tplKey, "template", "", "template key (instead of --message)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to try first")
	cmd.Flags().StringVar(&sender, "sender", "", "sender id override")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "template variable key=value (repeatable)")
	return cmd
}

func campaignRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [campaign-id]",
		Short: "Run a campaign to completion (Ctrl-C cancels)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := buildEngine(cfg, st)
			batch := dispatch.NewBatch(engine, st, cfg.General.MaxConcurrentSends, logger)
			runner := dispatch.NewRunner(batch, st, logger)

			res, err := runner.RunCampaign(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("campaign %s: status=%s sent=%d failed=%d total=%d\n",
				res.CampaignID, res.Status, res.Sent, res.Failed, res.Total)
			return nil
		},
	}
}

func campaignCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [campaign-id]",
		Short: "Mark a non-running campaign cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			// A campaign running in this process is cancelled via Ctrl-C on
			// 'campaign run'. This command retires drafts and scheduled runs.
			ctx := context.Background()
			c, err := st.LoadCampaign(ctx, args[0])
			if err != nil {
				return err
			}
			if c.Status.Terminal() {
				return fmt.Errorf("campaign %s already %s", c.ID, c.Status)
			}
			if c.Status == domain.CampaignRunning {
				return fmt.Errorf("campaign %s is running: interrupt the 'campaign run' process instead", c.ID)
			}
			if err := st.UpdateCampaignStatus(ctx, c.ID, domain.CampaignCancelled); err != nil {
				return err
			}
			fmt.Printf("campaign %s cancelled\n", c.ID)
			return nil
		},
	}
}

func campaignStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [campaign-id]",
		Short: "Show campaign progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			c, err := st.LoadCampaign(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", c.ID, c.Name)
			fmt.Printf("  status: %s\n", c.Status)
			fmt.Printf("  progress: %d sent, %d failed, %d total\n", c.Sent, c.Failed, c.Total)
			return nil
		},
	}
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage message templates",
	}

	var inactive bool
	set := &cobra.Command{
		Use:   "set [key] [body]",
		Short: "Create or update a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tpl := &domain.Template{Key: args[0], Body: args[1], Active: !inactive}
			if err := st.SaveTemplate(context.Background(), tpl); err != nil {
				return err
			}
			fmt.Printf("template %s saved, variables: %s\n", tpl.Key, strings.Join(tpl.Variables, ", "))
			return nil
		},
	}
	set.Flags().BoolVar(&inactive, "inactive", false, "save the template disabled")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [key]",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tpl, err := st.GetTemplate(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (active=%t)\n%s\n", tpl.Key, tpl.Active, tpl.Body)
			if len(tpl.Variables) > 0 {
				fmt.Printf("variables: %s\n", strings.Join(tpl.Variables, ", "))
			}
			return nil
		},
	})

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and the fallback chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry := transport.NewRegistry(cfg, logger)
			for _, name := range registry.Names() {
				marker := " "
				if name == cfg.General.DefaultProvider {
					marker = "*"
				}
				sender := registry.DefaultSender(name)
				if sender == "" {
					sender = "-"
				}
				fmt.Printf("%s %-16s sender=%s\n", marker, name, sender)
			}
			if len(cfg.General.FallbackChain) > 0 {
				fmt.Printf("fallback chain: %s\n", strings.Join(cfg.General.FallbackChain, " -> "))
			}
			return nil
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and test autoresponder rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, err := automation.LoadRules(cfg.Automation.RulesDir, logger)
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Printf("no rules in %s\n", cfg.Automation.RulesDir)
				return nil
			}
			for _, r := range rules {
				state := "active"
				if !r.Active {
					state = "disabled"
				}
				fmt.Printf("%-20s trigger=%-12s keywords=%v %s\n", r.ID, r.Trigger, r.Keywords, state)
			}
			return nil
		},
	})

	var (
		to       string
		varFlags []string
	)
	test := &cobra.Command{
		Use:   "test [rule-id]",
		Short: "Fire one rule against a recipient (sends a real message)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			rules, err := automation.LoadRules(cfg.Automation.RulesDir, logger)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := buildEngine(cfg, st)
			auto := automation.New(rules, engine, st, st, logger)
			res, err := auto.TestRule(ctx, args[0], to, vars)
			if err != nil {
				return err
			}
			fmt.Printf("rule %s fired: provider=%s id=%s\n",
				res.RuleID, res.Outcome.Provider, res.Outcome.ProviderMessageID)
			return nil
		},
	}
	test.Flags().StringVar(&to, "to", "", "recipient number (required)")
	test.Flags().StringArrayVar(&varFlags, "var", nil, "payload value key=value (repeatable)")
	test.MarkFlagRequired("to")
	cmd.AddCommand(test)

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the inbound gateway and autoresponder engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The trigger history lives in Redis when several gateway
			// instances share rate-limit state, otherwise in SQLite.
			var history domain.TriggerHistory = st
			if cfg.Automation.HistoryBackend == "redis" {
				rh, err := store.NewRedisHistory(ctx, cfg.Automation.Redis, 30*24*time.Hour, logger)
				if err != nil {
					return err
				}
				defer rh.Close()
				history = rh
			}

			rules, err := automation.LoadRules(cfg.Automation.RulesDir, logger)
			if err != nil {
				return err
			}
			logger.Info("autoresponder rules loaded", "count", len(rules))

			engine := buildEngine(cfg, st)
			auto := automation.New(rules, engine, st, history, logger)

			eventBus := bus.New(100, logger)
			defer eventBus.Close()
			go auto.Run(ctx, eventBus)

			gw := inbound.New(cfg.Gateway, cfg.Metrics.Enabled, eventBus, logger)
			return gw.Serve(ctx)
		},
	}
}
