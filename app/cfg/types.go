package cfg

import "time"

type Cfg struct {
	Command string

	// Storage configuration
	DBDriver     string
	DBPath       string
	SupabaseURL  string
	SupabaseKey  string
	StoreTimeout time.Duration

	// Enrichment service configuration
	AIProvider      string
	AIAPIKey        string
	AIBaseURL       string
	AIModels        []string
	AIFallbackModel string
	AIMinDelay      time.Duration
	AITimeout       time.Duration
	AIMaxInputChars int

	// Pipeline configuration
	FeedsDir          string
	RetentionDays     int
	RetryPendingLimit int
	WorkerCount       int

	// Notifications and metrics
	TelegramBotToken string
	TelegramChatID   string
	PushgatewayURL   string

	// HTTP server configuration
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
