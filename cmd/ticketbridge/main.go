package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ticketbridge/internal/bus"
	"ticketbridge/internal/channel"
	"ticketbridge/internal/config"
	"ticketbridge/internal/domain"
	"ticketbridge/internal/draft"
	"ticketbridge/internal/hub"
	"ticketbridge/internal/media"
	"ticketbridge/internal/server"
	"ticketbridge/internal/store"
	"ticketbridge/internal/tracker"
	"ticketbridge/internal/workflow"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "ticketbridge",
		Short: "ticketbridge: messaging-to-issue-tracker workflow daemon",
		Long:  "ticketbridge ingests WhatsApp and Telegram messages, drafts Jira tickets with an LLM, and pushes approved drafts to Jira after dashboard review.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.ticketbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

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

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
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
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("server", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
			logger.Info("channels",
				"whatsapp", cfg.Channels.WhatsApp.Enabled,
				"telegram", cfg.Channels.Telegram.Enabled)
			logger.Info("drafting", "model", cfg.Drafting.Model)
			logger.Info("jira", "configured", cfg.Jira.BaseURL != "", "projectKey", cfg.Jira.ProjectKey)
			logger.Info("storage", "db", cfg.Storage.DBPath, "mediaDriver", cfg.Storage.Media.Driver)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
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
		Short: "Set a config value (e.g. jira.projectKey OPS)",
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
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets redacted",
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

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (channels + drafting + dashboard API)",
		Long:  "Starts the enabled messaging channels, the drafting workflow, and the dashboard HTTP API. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mediaStore, err := buildMediaStore(cfg)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}

	generator, err := draft.NewGeminiGenerator(ctx, cfg.Drafting.Model,
		time.Duration(cfg.Drafting.TimeoutSeconds)*time.Second, logger)
	if err != nil {
		return fmt.Errorf("draft generator: %w", err)
	}

	var issueTracker domain.IssueTracker
	if cfg.Jira.BaseURL != "" {
		issueTracker, err = tracker.NewJiraClient(tracker.JiraConfig{
			BaseURL:    cfg.Jira.BaseURL,
			Email:      cfg.Jira.Email,
			APIToken:   cfg.Jira.APIToken,
			ProjectKey: cfg.Jira.ProjectKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("jira client: %w", err)
		}
	} else {
		return fmt.Errorf("jira.baseUrl is required to run the gateway")
	}

	eventHub := hub.New(logger)

	engine := workflow.NewEngine(workflow.Deps{
		Tickets:   st,
		Templates: st,
		Media:     mediaStore,
		Generator: generator,
		Tracker:   issueTracker,
		Bus:       messageBus,
		Hub:       eventHub,
		Logger:    logger,
	})
	go engine.Run(ctx)

	srv := server.New(server.Options{
		Engine:         engine,
		Tickets:        st,
		Templates:      st,
		Media:          mediaStore,
		Hub:            eventHub,
		Logger:         logger,
		MetricsEnabled: cfg.Metrics.Enabled,
		Version:        version,
	})

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(cfg.Channels.Telegram, logger)
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var whatsappCh *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		whatsappCh = channel.NewWhatsApp(cfg.Channels.WhatsApp, logger)
		if err := whatsappCh.Start(ctx, messageBus); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		srv.Mount("/webhook/", whatsappCh.Handler())
		logger.Info("whatsapp channel enabled")
	} else {
		logger.Info("whatsapp channel disabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(addr)
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Shutdown(shutdownCtx)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if whatsappCh != nil {
			whatsappCh.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}

func buildMediaStore(cfg *config.Config) (domain.MediaStore, error) {
	switch cfg.Storage.Media.Driver {
	case "s3":
		return media.NewS3Store(media.S3Config{
			Endpoint:  cfg.Storage.Media.S3.Endpoint,
			Region:    cfg.Storage.Media.S3.Region,
			AccessKey: cfg.Storage.Media.S3.AccessKey,
			SecretKey: cfg.Storage.Media.S3.SecretKey,
			Bucket:    cfg.Storage.Media.S3.Bucket,
			UseSSL:    cfg.Storage.Media.S3.UseSSL,
		})
	default:
		return media.NewLocalStore(cfg.Storage.Media.UploadsDir)
	}
}
