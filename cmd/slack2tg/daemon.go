package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"slack2tg/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.slack2tg.relay"
	systemdUnit  = "slack2tg.service"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the relay as a background service (launchd/systemd)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a user service that runs 'slack2tg serve'",
		Long: `Writes a launchd agent (macOS) or systemd user unit (Linux). On Linux the unit
reads optional environment overrides such as TELEGRAM_BOT_TOKEN from ~/.slack2tg/env.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, content, err := serviceFile(runtime.GOOS, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(config.DefaultConfigDir(), "logs"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n", path)
			printServiceHints(cmd, runtime.GOOS, path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the service file is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Not installed (%s)\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed: %s\n", path)
			return nil
		},
	})

	return cmd
}

func servicePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

// serviceFile renders the service definition for goos and returns where it belongs.
func serviceFile(goos, execPath, cfgPath string) (string, string, error) {
	path, err := servicePath(goos)
	if err != nil {
		return "", "", err
	}
	logDir := filepath.Join(config.DefaultConfigDir(), "logs")
	r := strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(logDir, "slack2tg.log"),
		"{{ERR_LOG}}", filepath.Join(logDir, "slack2tg-error.log"),
		"{{ENV_FILE}}", filepath.Join(config.DefaultConfigDir(), "env"),
	)
	if goos == "darwin" {
		return path, r.Replace(launchdTemplate), nil
	}
	return path, r.Replace(systemdTemplate), nil
}

func printServiceHints(cmd *cobra.Command, goos, path string) {
	out := cmd.OutOrStdout()
	if goos == "darwin" {
		fmt.Fprintf(out, "To start: launchctl load %s\n", path)
		fmt.Fprintf(out, "To stop:  launchctl unload %s\n", path)
		return
	}
	fmt.Fprintf(out, "To enable: systemctl --user enable --now slack2tg\n")
	fmt.Fprintf(out, "To stop:   systemctl --user stop slack2tg\n")
	fmt.Fprintf(out, "Logs:      journalctl --user -u slack2tg\n")
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=slack2tg Slack-to-Telegram webhook relay
After=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{ENV_FILE}}
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
