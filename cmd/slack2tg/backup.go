package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slack2tg/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the audit database and config file",
		Long: `Creates a compressed .tar.gz archive containing the audit SQLite database
and the configuration file. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveAuditPath()

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("slack2tg-backup-%s.tar.gz", ts))
			}

			members := backupMembers(dbPath, cfgPath)
			if len(members) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", dbPath, cfgPath)
			}
			if err := writeArchive(outputPath, members); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup written to %s\n", outputPath)
			for _, m := range members {
				var size int64
				if info, err := os.Stat(m.path); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(out, "  %-16s %s\n", m.name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.slack2tg/backups/slack2tg-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the audit database and config file from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveAuditPath()

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", p)
					}
				}
			}

			restored, err := readArchive(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d file(s) from %s\n", len(restored), args[0])
			for _, f := range restored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// resolveAuditPath returns the configured audit database path, falling back
// to the default when the config cannot be loaded.
func resolveAuditPath() string {
	if cfg, err := loadConfig(); err == nil {
		return config.ExpandPath(cfg.Audit.DBPath)
	}
	return config.ExpandPath(config.Defaults().Audit.DBPath)
}

// Archive members carry fixed names so a restore does not depend on the
// paths of the machine that made the backup.
const (
	memberDB     = "audit.db"
	memberConfig = "config"
)

type archiveMember struct {
	name string // inside the archive
	path string // on disk
}

// backupMembers lists the existing files to archive. SQLite's -wal and -shm
// files travel with the database.
func backupMembers(dbPath, cfgPath string) []archiveMember {
	ext := filepath.Ext(cfgPath)
	if ext == "" {
		ext = ".yaml"
	}
	candidates := []archiveMember{
		{memberDB, dbPath},
		{memberDB + "-wal", dbPath + "-wal"},
		{memberDB + "-shm", dbPath + "-shm"},
		{memberConfig + ext, cfgPath},
	}
	var members []archiveMember
	for _, m := range candidates {
		if info, err := os.Stat(m.path); err == nil && info.Mode().IsRegular() {
			members = append(members, m)
		}
	}
	return members
}

// restoreTarget maps an archive member back onto the local layout.
func restoreTarget(name, dbPath, cfgPath string) (string, bool) {
	switch name {
	case memberDB, memberDB + "-wal", memberDB + "-shm":
		return dbPath + strings.TrimPrefix(name, memberDB), true
	}
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		if strings.TrimSuffix(name, filepath.Ext(name)) == memberConfig {
			return cfgPath, true
		}
	}
	return "", false
}

func writeArchive(dst string, members []archiveMember) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		if err := appendMember(tw, m); err != nil {
			return fmt.Errorf("add %s: %w", m.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func appendMember(tw *tar.Writer, m archiveMember) error {
	src, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    m.name,
		Mode:    0o600,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// readArchive restores known members and returns the paths written.
// Unknown members are skipped.
func readArchive(src, dbPath, cfgPath string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, ok := restoreTarget(hdr.Name, dbPath, cfgPath)
		if !ok {
			continue
		}
		if err := writeMember(target, tr); err != nil {
			return restored, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		restored = append(restored, target)
	}
}

func writeMember(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
