package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			CompanionName: "Replika",
			EnvFile:       ".env",
		},
		Browser: BrowserConfig{
			ProfileDir: "~/.replicli/chrome-profile",
			Headless:   false,
		},
		Site: SiteConfig{
			URL:        "https://my.replika.com/",
			LandingURL: "https://my.replika.com/",
		},
		Timeouts: TimeoutsConfig{
			SubmitSeconds:        15,
			DeliverySeconds:      10,
			SettleSeconds:        5,
			CollectSeconds:       30,
			ImageProbeSeconds:    10,
			LoginFieldSeconds:    10,
			LoginRedirectSeconds: 20,
			PostLoginSeconds:     3,
			ImageContinueSeconds: 6,
			ImageStopSeconds:     3,
			OneShotLingerSeconds: 2,
		},
		Transcript: TranscriptConfig{
			Dir:    "~/.replicli/conversations",
			DBPath: "~/.replicli/transcripts.db",
			Index:  true,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
	}
}
