package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

// ErrConfigurationMissing marks a mandatory setting that is absent. It is the
// only condition that makes the process exit with a non-zero code.
var ErrConfigurationMissing = errors.New("configuration missing")

const (
	CommandRun     = "run"
	CommandServe   = "serve"
	CommandMigrate = "migrate"
	CommandModels  = "models"
)

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBDriver     string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" choice:"sqlite" choice:"supabase" description:"Storage backend"`
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/news-comb.db" description:"SQLite database file"`
	SupabaseURL  string `long:"supabase-url" env:"SUPABASE_URL" description:"Supabase project URL (supabase driver)"`
	SupabaseKey  string `long:"supabase-key" env:"SUPABASE_KEY" description:"Supabase service key (supabase driver)"`
	StoreTimeout int    `long:"store-timeout" env:"STORE_TIMEOUT" default:"15" description:"Timeout for a single store request in seconds (supabase driver)"`

	// Enrichment service configuration
	AIProvider      string `long:"ai-provider" env:"AI_PROVIDER" default:"gemini" choice:"gemini" choice:"openai" description:"Enrichment service API flavour"`
	AIAPIKey        string `long:"ai-api-key" env:"AI_API_KEY" description:"Enrichment service API key"`
	AIBaseURL       string `long:"ai-base-url" env:"AI_BASE_URL" description:"Enrichment service base URL (provider default when empty)"`
	AIModels        string `long:"ai-models" env:"AI_MODELS" default:"gemini-flash-latest,gemini-2.0-flash" description:"Preferred models, comma separated, most preferred first"`
	AIFallbackModel string `long:"ai-fallback-model" env:"AI_FALLBACK_MODEL" description:"Model used when the model listing is unavailable (empty aborts the run)"`
	AIMinDelay      int    `long:"ai-min-delay" env:"AI_MIN_DELAY" default:"4" description:"Minimum delay between enrichment calls in seconds"`
	AITimeout       int    `long:"ai-timeout" env:"AI_TIMEOUT" default:"60" description:"Enrichment call timeout in seconds"`
	AIMaxInputChars int    `long:"ai-max-input-chars" env:"AI_MAX_INPUT_CHARS" default:"2000" description:"Maximum characters of item text sent for enrichment"`

	// Pipeline configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	RetentionDays     int    `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"Delete unsaved items older than this many days (0 disables)"`
	RetryPendingLimit int    `long:"retry-pending-limit" env:"RETRY_PENDING_LIMIT" default:"10" description:"Pending items from previous runs to re-enrich per run"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of parallel feed fetches"`

	// Notifications and metrics
	TelegramBotToken string `long:"telegram-bot-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token for run notifications (optional)"`
	TelegramChatID   string `long:"telegram-chat-id" env:"TELEGRAM_CHAT_ID" description:"Telegram chat ID for run notifications (optional)"`
	PushgatewayURL   string `long:"pushgateway-url" env:"PUSHGATEWAY_URL" description:"Prometheus Pushgateway URL for run metrics (optional)"`

	// HTTP server configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://news.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for write endpoints (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"News Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Asia/Taipei)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

type command struct{}

func (c *command) Execute(args []string) error {
	return nil
}

var globalCfg *Cfg

// Load parses flags and environment. It returns nil, nil when help was
// requested.
func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	parser.SubcommandsOptional = true

	commands := []struct{ name, short string }{
		{CommandRun, "Run the ingestion pipeline once"},
		{CommandServe, "Serve stored items over HTTP"},
		{CommandMigrate, "Apply database migrations and exit"},
		{CommandModels, "List enrichment models and the resolved choice"},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short, &command{}); err != nil {
			return nil, fmt.Errorf("failed to register command %s: %w", c.name, err)
		}
	}

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	command := CommandRun
	if parser.Active != nil {
		command = parser.Active.Name
	}

	cfg := &Cfg{
		Command:           command,
		DBDriver:          raw.DBDriver,
		DBPath:            raw.DBPath,
		SupabaseURL:       raw.SupabaseURL,
		SupabaseKey:       raw.SupabaseKey,
		StoreTimeout:      time.Duration(raw.StoreTimeout) * time.Second,
		AIProvider:        raw.AIProvider,
		AIAPIKey:          raw.AIAPIKey,
		AIBaseURL:         raw.AIBaseURL,
		AIModels:          splitList(raw.AIModels),
		AIFallbackModel:   strings.TrimSpace(raw.AIFallbackModel),
		AIMinDelay:        time.Duration(raw.AIMinDelay) * time.Second,
		AITimeout:         time.Duration(raw.AITimeout) * time.Second,
		AIMaxInputChars:   raw.AIMaxInputChars,
		FeedsDir:          raw.FeedsDir,
		RetentionDays:     raw.RetentionDays,
		RetryPendingLimit: raw.RetryPendingLimit,
		WorkerCount:       raw.WorkerCount,
		TelegramBotToken:  raw.TelegramBotToken,
		TelegramChatID:    raw.TelegramChatID,
		PushgatewayURL:    raw.PushgatewayURL,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Validate checks the settings the active command cannot work without.
func (c *Cfg) Validate() error {
	var missing []string

	switch c.DBDriver {
	case "supabase":
		if c.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_KEY")
		}
	default:
		if c.DBPath == "" {
			missing = append(missing, "DB_PATH")
		}
	}

	if c.Command == CommandRun || c.Command == CommandModels {
		if c.AIAPIKey == "" && !(c.AIProvider == "openai" && c.AIBaseURL != "") {
			missing = append(missing, "AI_API_KEY")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}

	return nil
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
