package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"slack2tg/internal/config"
	"slack2tg/internal/telegram"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// checkReport tallies doctor results and prints one line per check.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *checkReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay configuration",
		Long: `Verifies configuration, Telegram credentials, routing, security settings,
the listen address and the audit database. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "slack2tg doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &checkReport{out: out}
			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config", err.Error())
				return summarize(r)
			}
			runChecks(r, cfg, online)
			return summarize(r)
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "also verify the bot token against the Telegram API")
	return cmd
}

func runChecks(r *checkReport, cfg *config.Config, online bool) {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn("Config file", fmt.Sprintf("not found at %s (using defaults + environment)", cfgPath))
	} else {
		r.pass("Config file", cfgPath)
	}
	r.pass("Config validation", "valid")

	switch {
	case cfg.Telegram.Token == "":
		r.fail("Bot token", "not configured (telegram.token or TELEGRAM_BOT_TOKEN)")
	case strings.HasPrefix(cfg.Telegram.Token, "${"):
		r.fail("Bot token", "unresolved environment reference "+cfg.Telegram.Token)
	case online:
		if _, err := telegram.Dial(cfg.Telegram.Token, cfg.Telegram.APIEndpoint, 10*time.Second); err != nil {
			r.fail("Bot token", err.Error())
		} else {
			r.pass("Bot token", "accepted by Telegram")
		}
	default:
		r.pass("Bot token", "configured")
	}

	if cfg.Routing.DefaultChatID == "" {
		r.fail("Default chat", "not configured (routing.defaultChatId or DEFAULT_CHAT_ID)")
	} else {
		r.pass("Default chat", cfg.Routing.DefaultChatID)
	}

	if len(cfg.Routing.Routes) == 0 {
		r.warn("Routes", "none configured, every hook goes to the default chat")
	} else {
		keys := make([]string, 0, len(cfg.Routing.Routes))
		for k := range cfg.Routing.Routes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		r.pass("Routes", fmt.Sprintf("%d (%s)", len(keys), strings.Join(keys, ", ")))
	}

	if cfg.Security.SharedSecret == "" {
		r.warn("Shared secret", "not set, webhooks are accepted without authentication")
	} else {
		r.pass("Shared secret", "configured")
	}
	if len(cfg.Security.AllowIPs) > 0 {
		r.pass("IP allowlist", strings.Join(cfg.Security.AllowIPs, ", "))
	}

	if err := checkListen(cfg.Server.ListenAddr); err != nil {
		r.warn("Listen address", fmt.Sprintf("%s may be in use: %v", cfg.Server.ListenAddr, err))
	} else {
		r.pass("Listen address", cfg.Server.ListenAddr+" available")
	}

	if cfg.Audit.Enabled {
		if err := checkDatabase(cfg.Audit.DBPath); err != nil {
			r.fail("Audit database", err.Error())
		} else {
			r.pass("Audit database", cfg.Audit.DBPath)
		}
	}
}

func summarize(r *checkReport) error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned == 0 {
		fmt.Fprintf(r.out, "\nAll checks passed. The relay is ready to run.\n")
	}
	return nil
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
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
