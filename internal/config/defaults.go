package config

const (
	// DefaultFallbackText is sent when the answering service gives no usable reply.
	DefaultFallbackText = "service unavailable, try again later"

	DefaultMapLinkText = "想在google map上面查看? 前往連結：https://maps.app.goo.gl/DCfrDHKc17zV68tV6"
)

// Defaults returns a config with every optional value filled in. Required
// credentials reference environment variables so a saved default config can
// be used as-is once they are exported.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Timezone:  "Asia/Taipei",
		},
		Line: LineConfig{
			ChannelAccessToken: "${LINE_CHANNEL_ACCESS_TOKEN}",
			ChannelSecret:      "${LINE_CHANNEL_SECRET}",
			LoginID:            "${LINE_LOGIN_ID}",
			LoginSecret:        "${LINE_LOGIN_SECRET}",
			APIBase:            "https://api.line.me",
			DataAPIBase:        "https://api-data.line.me",
			VerifySignature:    true,
			TimeoutSeconds:     15,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               5000,
			BaseURL:            "${BASE_URL}",
			StaticDir:          "tmp/static",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			MaxBodyBytes:       1 << 20,
		},
		Answer: AnswerConfig{
			URL:            "http://localhost:5678/webhook/",
			TimeoutSeconds: 30,
			FallbackText:   DefaultFallbackText,
			Breaker: BreakerConfig{
				MaxFailures:     5,
				OpenSeconds:     30,
				IntervalSeconds: 60,
			},
		},
		Classifier: ClassifierConfig{
			URL:            "http://localhost:8500/predict",
			TimeoutSeconds: 60,
			Breaker: BreakerConfig{
				MaxFailures:     3,
				OpenSeconds:     60,
				IntervalSeconds: 120,
			},
		},
		Shelter: ShelterConfig{
			Bucket:           "orereo",
			KeyPrefix:        "shelter/image",
			TimeoutSeconds:   30,
			PrefetchSchedule: "5 0 * * *",
			MapLinkText:      DefaultMapLinkText,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.shelterbot/journal.db",
			RetentionDays: 30,
		},
	}
}
