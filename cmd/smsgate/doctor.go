package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"smsgate/internal/automation"
	"smsgate/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your smsgate installation",
		Long: `Verifies that smsgate's configuration, providers, database, and
autoresponder rules are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("smsgate Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'smsgate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Database writable
			dbPath := cfg.Store.DBPath
			if dbPath == "" {
				dbPath = filepath.Join(config.DefaultConfigDir(), "smsgate.db")
			}
			if err := checkDatabase(dbPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", dbPath)
				passed++
			}

			// 4. Check providers
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				switch {
				case name == "mock":
					printPass("Provider: "+name, "built-in")
					passed++
				case p.APIKey == "" && p.Token == "":
					printWarn("Provider: "+name, "enabled but no credentials configured")
					warned++
				default:
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			// 5. Default provider and fallback chain point at enabled providers
			chain := append([]string{cfg.General.DefaultProvider}, cfg.General.FallbackChain...)
			for _, name := range chain {
				if name == "" {
					continue
				}
				if p, ok := cfg.Providers[name]; !ok || !p.Enabled {
					printWarn("Chain: "+name, "named in chain but not enabled")
					warned++
				}
			}

			// 6. Gateway port
			if port := cfg.Gateway.Port; port != 0 {
				if err := checkPort(port); err != nil {
					printWarn("Gateway port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Gateway port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// 7. Autoresponder rules parse
			if cfg.Automation.RulesDir != "" {
				rules, err := automation.LoadRules(cfg.Automation.RulesDir, logger)
				if err != nil {
					printFail("Rules", err.Error())
					failed++
				} else {
					printPass("Rules", fmt.Sprintf("%d loaded from %s", len(rules), cfg.Automation.RulesDir))
					passed++
				}
			}

			// 8. Redis reachable when selected as history backend
			if cfg.Automation.HistoryBackend == "redis" {
				if err := checkRedis(cfg.Automation.Redis); err != nil {
					printFail("Redis", err.Error())
					failed++
				} else {
					printPass("Redis", cfg.Automation.Redis.Addr)
					passed++
				}
			}

			// 9. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running smsgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nsmsgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! smsgate is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
