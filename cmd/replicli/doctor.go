package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"replicli/internal/browser"
	"replicli/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// chromeCandidates are the executables probed when browser.execPath is unset.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your replicli setup",
		Long: `Verifies that replicli's configuration, credentials, browser, selectors
and transcript storage are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("replicli doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
				cfg = config.Defaults()
				cfg.ExpandPaths()
			} else if loaded, err := config.Load(cfgPath); err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config is invalid")
			} else {
				printPass("Config file", cfgPath)
				passed++
				cfg = loaded
			}

			// 2. Credentials
			if _, err := config.LoadCredentials(cfg.General.EnvFile); err != nil {
				printFail("Credentials", err.Error())
				failed++
			} else {
				printPass("Credentials", "email and password set")
				passed++
			}

			// 3. Selectors
			if _, err := browser.ResolveLocators(cfg.Site.SelectorsFile, cfg.Site.Selectors); err != nil {
				printFail("Selectors", err.Error())
				failed++
			} else {
				detail := "built-in defaults"
				if cfg.Site.SelectorsFile != "" || len(cfg.Site.Selectors) > 0 {
					detail = "defaults with overrides"
				}
				printPass("Selectors", detail)
				passed++
			}

			// 4. Browser executable
			if exe, err := findChrome(cfg.Browser.ExecPath); err != nil {
				printFail("Browser", err.Error())
				failed++
			} else {
				printPass("Browser", exe)
				passed++
			}

			// 5. Browser profile
			if info, err := os.Stat(cfg.Browser.ProfileDir); err == nil && info.IsDir() {
				printPass("Browser profile", cfg.Browser.ProfileDir)
				passed++
			} else {
				printWarn("Browser profile", fmt.Sprintf("%s will be created; the first run signs in", cfg.Browser.ProfileDir))
				warned++
			}

			// 6. Transcript directory writable
			if err := checkWritableDir(cfg.Transcript.Dir); err != nil {
				printFail("Transcripts", err.Error())
				failed++
			} else {
				printPass("Transcripts", cfg.Transcript.Dir)
				passed++
			}

			// 7. Transcript index
			if cfg.Transcript.Index {
				if err := checkDatabase(cfg.Transcript.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Transcript.DBPath)
					passed++
				}
			}

			// 8. Telegram relay
			if cfg.Telegram.Enabled {
				if cfg.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else if len(cfg.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "allowFrom is empty, any user can relay messages")
					warned++
				} else {
					printPass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Telegram.AllowFrom)))
					passed++
				}
			}

			// 9. Log file and metrics textfile directories
			for _, f := range []struct{ name, path string }{
				{"Log file", cfg.General.LogFile},
				{"Metrics textfile", cfg.Metrics.Textfile},
			} {
				if f.path == "" {
					continue
				}
				if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
					printWarn(f.name, fmt.Sprintf("cannot create directory: %v", err))
					warned++
				} else {
					printPass(f.name, f.path)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running replicli.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nreplicli should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! replicli is ready to run.\n")
			}
			return nil
		},
	}
}

// findChrome returns the browser executable chromedp will start.
func findChrome(execPath string) (string, error) {
	if execPath != "" {
		if _, err := os.Stat(execPath); err != nil {
			return "", fmt.Errorf("browser.execPath: %w", err)
		}
		return execPath, nil
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium found on PATH (set browser.execPath)")
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
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

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
