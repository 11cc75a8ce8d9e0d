package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"replicli/internal/channel"
	"replicli/internal/config"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "replicli [message]",
		Short: "replicli: chat with your Replika from the terminal",
		Long: `replicli drives the Replika web chat through a real browser.

With a message argument it sends that one message, prints the reply and
exits. Without one it starts an interactive session; type exit or quit to
end it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE:          runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.replicli/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(telegramCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())

	if err := root.Execute(); err != nil {
		logger.Error("replicli failed", "err", err)
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

// loadConfig loads the config file, falling back to defaults when there is
// none. A file that exists but does not parse or validate is an error.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	logger.Warn("config not found, using defaults", "path", cfgPath)
	cfg = config.Defaults()
	cfg.ExpandPaths()
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with one built from cfg.
func setupLogger(cfg *config.Config) func() {
	l, closer := newLogger(cfg.General)
	logger = l
	return func() { _ = closer.Close() }
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			expanded := config.Defaults()
			expanded.ExpandPaths()
			if err := os.MkdirAll(expanded.Transcript.Dir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "transcripts", expanded.Transcript.Dir)
			fmt.Printf("Set %s and %s in your environment or in %s before the first run.\n",
				config.EnvEmail, config.EnvPassword, cfg.General.EnvFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer setupLogger(cfg)()

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := channel.NewConsole(channel.ConsoleConfig{
		CompanionName: cfg.General.CompanionName,
		Logger:        logger,
	})

	rt, err := startSession(ctx, cfg, console)
	if err != nil {
		console.Error(err.Error())
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		out, err := rt.ctrl.RunOnce(ctx, args[0])
		if err != nil {
			return err
		}
		logger.Debug("one-shot turn finished", "reason", out.Reason())
		return nil
	}

	console.Banner()
	return rt.ctrl.Run(ctx)
}

func telegramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Relay messages from Telegram to the companion",
		Long: `Starts a browser session and relays messages from allow-listed Telegram
users to the companion, one turn at a time. Replies and image prompts are
sent back to the chat. Press Ctrl+C or send /quit to stop.`,
		Args: cobra.NoArgs,
		RunE: runTelegram,
	}
}

func runTelegram(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer setupLogger(cfg)()

	if !cfg.Telegram.Enabled || cfg.Telegram.Token == "" {
		return errors.New("telegram relay is not configured (set telegram.enabled and telegram.token)")
	}
	if len(cfg.Telegram.AllowFrom) == 0 {
		logger.Warn("telegram allowFrom is empty, every user can talk to the companion")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:         cfg.Telegram.Token,
		AllowFrom:     cfg.Telegram.AllowFrom,
		CompanionName: cfg.General.CompanionName,
		Logger:        logger,
	})
	if err := tg.Start(ctx); err != nil {
		return err
	}
	defer tg.Stop()

	rt, err := startSession(ctx, cfg, tg)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("telegram relay started. Press Ctrl+C to stop.")
	return rt.ctrl.Run(ctx)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. timeouts.collectSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. browser.headless true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
