package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"replicli/internal/config"

	"github.com/spf13/cobra"
)

// Archive layout: config.json at the root, the transcript index under
// index/ and the transcript tree under conversations/.
const (
	archiveConfig        = "config.json"
	archiveIndexDir      = "index"
	archiveTranscriptDir = "conversations"
)

// archiveEntry maps a file on disk to its name inside the archive.
type archiveEntry struct {
	src  string
	name string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of transcripts, the transcript index and config",
		Long: `Creates a compressed .tar.gz archive containing the transcript files,
the SQLite transcript index and the configuration file. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("replicli-backup-%s.tar.gz", ts))
			}

			entries, err := collectBackupEntries(cfgPath, cfg.Transcript.DBPath, cfg.Transcript.Dir)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no files to backup (config: %s, transcripts: %s)", cfgPath, cfg.Transcript.Dir)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			var total int64
			for _, e := range entries {
				if info, err := os.Stat(e.src); err == nil {
					total += info.Size()
				}
			}
			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d (%s)\n", len(entries), humanSize(total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.replicli/backups/replicli-backup-<timestamp>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore transcripts, the transcript index and config from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Safety: warn before overwriting
			if !force {
				if _, err := os.Stat(cfg.Transcript.DBPath); err == nil {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Index:       %s\n", cfg.Transcript.DBPath)
					fmt.Printf("  Config:      %s\n", cfgPath)
					fmt.Printf("  Transcripts: %s\n", cfg.Transcript.Dir)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(args[0], cfgPath, filepath.Dir(cfg.Transcript.DBPath), cfg.Transcript.Dir)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Files restored: %d\n", len(restored))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// collectBackupEntries lists every file that exists among the config, the
// index (with its WAL and SHM files) and the transcript tree.
func collectBackupEntries(cfgPath, dbPath, transcriptDir string) ([]archiveEntry, error) {
	var entries []archiveEntry

	if _, err := os.Stat(cfgPath); err == nil {
		entries = append(entries, archiveEntry{src: cfgPath, name: archiveConfig})
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := dbPath + suffix
		if _, err := os.Stat(p); err == nil {
			entries = append(entries, archiveEntry{src: p, name: path.Join(archiveIndexDir, filepath.Base(p))})
		}
	}

	err := filepath.WalkDir(transcriptDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == transcriptDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(transcriptDir, p)
		if err != nil {
			return err
		}
		entries = append(entries, archiveEntry{src: p, name: path.Join(archiveTranscriptDir, filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan transcripts: %w", err)
	}
	return entries, nil
}

// createTarGz creates a .tar.gz archive from the given entries.
func createTarGz(outputPath string, entries []archiveEntry) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.src, err)
		}
	}

	return nil
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.src)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = e.name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores archive entries to their configured locations.
// Entries that would land outside their target directory are rejected.
func extractTarGz(archivePath, cfgPath, indexDir, transcriptDir string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		var targetPath string
		switch {
		case name == archiveConfig:
			targetPath = cfgPath
		case strings.HasPrefix(name, archiveIndexDir+"/"):
			targetPath, err = within(indexDir, strings.TrimPrefix(name, archiveIndexDir+"/"))
		case strings.HasPrefix(name, archiveTranscriptDir+"/"):
			targetPath, err = within(transcriptDir, strings.TrimPrefix(name, archiveTranscriptDir+"/"))
		default:
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}

		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

// within joins rel onto dir and fails if the result escapes dir.
func within(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	back, err := filepath.Rel(dir, target)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", rel, dir)
	}
	return target, nil
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
