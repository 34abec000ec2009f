package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:           "info",
			DefaultProvider:    "mock",
			FallbackChain:      nil,
			MaxConcurrentSends: 5,
			SendTimeoutSeconds: 30,
		},
		Providers: map[string]ProviderConfig{
			"mock": {
				Enabled: true,
				Sender:  "SMSGATE",
			},
			"twilio": {
				Enabled: false,
				APIBase: "https://api.twilio.com",
			},
			"vonage": {
				Enabled: false,
				APIBase: "https://rest.nexmo.com",
			},
			"africastalking": {
				Enabled: false,
				APIBase: "https://api.africastalking.com",
			},
			"telegram": {
				Enabled: false,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.smsgate/smsgate.db",
		},
		Automation: AutomationConfig{
			RulesDir:       "~/.smsgate/rules",
			HistoryBackend: "sqlite",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8085,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
