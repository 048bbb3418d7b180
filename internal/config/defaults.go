package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.ticketbridge",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4000,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Drafting: DraftingConfig{
			Model:          "gemini-2.5-pro",
			TimeoutSeconds: 60,
		},
		Jira: JiraConfig{
			ProjectKey: "KAN",
		},
		Storage: StorageConfig{
			DBPath: "~/.ticketbridge/tickets.db",
			Media: MediaConfig{
				Driver:     "local",
				UploadsDir: "~/.ticketbridge/uploads",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
