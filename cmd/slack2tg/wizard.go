package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"slack2tg/internal/config"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var interactive, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Writes a config file to the path given by --config (default: ~/.slack2tg/config.yaml).
With --interactive, prompts for the bot token, default chat, routes and shared secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if interactive {
				if err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", cfgPath)
			if !cfg.Ready() {
				fmt.Fprintln(cmd.OutOrStdout(), "Set telegram.token and routing.defaultChatId (or TELEGRAM_BOT_TOKEN / DEFAULT_CHAT_ID) before running 'slack2tg serve'.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for settings")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// runWizard fills cfg from answers read from in. An empty answer keeps the default.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Telegram ---")
	tok, err := prompt("Bot token from @BotFather (or ${TELEGRAM_BOT_TOKEN})", "${TELEGRAM_BOT_TOKEN}")
	if err != nil {
		return err
	}
	cfg.Telegram.Token = tok

	chat, err := prompt("Default chat ID (e.g. -1001234567890 or @channel)", cfg.Routing.DefaultChatID)
	if err != nil {
		return err
	}
	cfg.Routing.DefaultChatID = chat

	mode, err := prompt("Parse mode (MarkdownV2, HTML, Markdown, none)", cfg.Telegram.ParseMode)
	if err != nil {
		return err
	}
	if strings.EqualFold(mode, "none") {
		mode = ""
	}
	cfg.Telegram.ParseMode = mode

	fmt.Fprintln(out, "\n--- Step 2: Routes ---")
	fmt.Fprintln(out, "Enter routes as key=chatID, one per line. Empty line to finish.")
	for {
		line, err := prompt("Route", "")
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		key, dest, ok := strings.Cut(line, "=")
		key, dest = strings.TrimSpace(key), strings.TrimSpace(dest)
		if !ok || key == "" || dest == "" {
			fmt.Fprintln(out, "  expected key=chatID, skipped")
			continue
		}
		cfg.Routing.Routes[key] = dest
	}

	fmt.Fprintln(out, "\n--- Step 3: Security ---")
	secret, err := prompt("Shared secret (empty = accept unauthenticated webhooks)", "")
	if err != nil {
		return err
	}
	cfg.Security.SharedSecret = secret

	addr, err := prompt("Listen address", cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	cfg.Server.ListenAddr = addr

	fmt.Fprintf(out, "\n  Routes: %d, default chat: %q, auth: %v\n",
		len(cfg.Routing.Routes), cfg.Routing.DefaultChatID, cfg.Security.SharedSecret != "")
	return nil
}
