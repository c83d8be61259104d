package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			JSONLogs: true,
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			MaxBodyBytes: 1 << 20,
		},
		Telegram: TelegramConfig{
			ParseMode:      "MarkdownV2",
			MaxMedia:       10,
			TimeoutSeconds: 30,
			RateBurst:      5,
		},
		Routing: RoutingConfig{
			Routes: RouteMap{},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BackoffSeconds: 0.5,
		},
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "~/.slack2tg/audit.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
