package config

// Config is the root configuration structure for painscan.
// Serialised to ~/.painscan/config.json.
type Config struct {
	Store     StoreConfig      `mapstructure:"store"     json:"store"`
	Database  DatabaseConfig   `mapstructure:"database"  json:"database"`
	AI        AIConfig         `mapstructure:"ai"        json:"ai"`
	Git       GitConfig        `mapstructure:"git"       json:"git"`
	Analyzer  AnalyzerConfig   `mapstructure:"analyzer"  json:"analyzer"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"  json:"pipeline"`
	Gateway   GatewayConfig    `mapstructure:"gateway"   json:"gateway"`
	Schedules []ScheduleConfig `mapstructure:"schedules" json:"schedules"`
	Notify    NotifyConfig     `mapstructure:"notify"    json:"notify"`
	Archive   ArchiveConfig    `mapstructure:"archive"   json:"archive"`
}

// StoreConfig selects where scan records live.
type StoreConfig struct {
	// Driver is "file" (default), "sqlite", or "mysql". The SQL drivers use
	// the database section.
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the JSON document used by the file driver.
	Path string `mapstructure:"path"   json:"path"`
}

// DatabaseConfig controls the SQL storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// AIConfig controls the AI provider used for analysis and enrichment.
type AIConfig struct {
	// Provider is "openai", "anthropic", "ollama" or "" (disabled).
	Provider     string `mapstructure:"provider"          json:"provider"`
	OpenAIKey    string `mapstructure:"openai_api_key"    json:"openai_api_key"`
	AnthropicKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	Model        string `mapstructure:"model"             json:"model"`
	// BaseURL overrides the API endpoint (useful for Azure OpenAI or proxies).
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// OllamaURL is used when Provider == "ollama".
	OllamaURL string `mapstructure:"ollama_url" json:"ollama_url"`
	// OptimizeForLocal enables stricter local timeouts and one retry.
	OptimizeForLocal bool `mapstructure:"optimize_for_local" json:"optimize_for_local"`
	// Fallback lists providers tried in order when the primary fails.
	Fallback []string `mapstructure:"fallback" json:"fallback"`
	// TimeoutSeconds bounds a single enrichment call.
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// GitConfig holds credentials for each supported git hosting platform.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
	// CacheDir holds reusable shallow checkouts.
	CacheDir string `mapstructure:"cache_dir" json:"cache_dir"`
	// CloneTimeoutSeconds bounds a single clone or fetch.
	CloneTimeoutSeconds int `mapstructure:"clone_timeout_seconds" json:"clone_timeout_seconds"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// AnalyzerConfig selects the detection strategy.
type AnalyzerConfig struct {
	// Mode is "pattern" (default), "ai", or "hybrid".
	Mode string `mapstructure:"mode" json:"mode"`
	// Fallback runs the pattern analyzer when the primary Hunt fails.
	Fallback bool `mapstructure:"fallback" json:"fallback"`
	// MaxFindings caps the findings returned per scan.
	MaxFindings int `mapstructure:"max_findings" json:"max_findings"`
	// MaxPerRule caps findings per rule id.
	MaxPerRule int `mapstructure:"max_per_rule" json:"max_per_rule"`
	// AIFiles is how many source files the AI analyzer reviews.
	AIFiles int `mapstructure:"ai_files" json:"ai_files"`
	// MetadataTTLSeconds caches repository metadata between calls.
	MetadataTTLSeconds int          `mapstructure:"metadata_ttl_seconds" json:"metadata_ttl_seconds"`
	Hybrid             HybridConfig `mapstructure:"hybrid" json:"hybrid"`
}

// HybridConfig is the explicit policy deciding when hybrid mode asks the AI
// analyzer for more findings.
type HybridConfig struct {
	// EnhanceOn lists rule ids whose presence triggers AI enhancement.
	EnhanceOn []string `mapstructure:"enhance_on" json:"enhance_on"`
	// MinSignal triggers enhancement when pattern findings are below it.
	MinSignal int `mapstructure:"min_signal" json:"min_signal"`
}

// PipelineConfig tunes the scan pipeline.
type PipelineConfig struct {
	BatchSize          int `mapstructure:"batch_size"           json:"batch_size"`
	BatchPauseMillis   int `mapstructure:"batch_pause_ms"       json:"batch_pause_ms"`
	MaxConcurrentScans int `mapstructure:"max_concurrent_scans" json:"max_concurrent_scans"`
}

// GatewayConfig controls the HTTP server.
type GatewayConfig struct {
	// Port is the HTTP port the gateway listens on (default: 6080).
	Port int `mapstructure:"port" json:"port"`
	// Bind is the listen address (default: 127.0.0.1).
	Bind string `mapstructure:"bind" json:"bind"`
}

// ScheduleConfig re-scans a repository on a cron expression.
type ScheduleConfig struct {
	Name    string `mapstructure:"name"     json:"name"`
	Expr    string `mapstructure:"expr"     json:"expr"`
	RepoURL string `mapstructure:"repo_url" json:"repo_url"`
}

// NotifyConfig controls outbound notifications.
type NotifyConfig struct {
	// Events limits which event types are sent (empty = defaults).
	Events []string `mapstructure:"events" json:"events"`
	// MinSeverity filters finding events ("critical", "high", ...).
	MinSeverity string              `mapstructure:"min_severity" json:"min_severity"`
	Slack       SlackNotifyConfig   `mapstructure:"slack"   json:"slack"`
	Webhook     WebhookNotifyConfig `mapstructure:"webhook" json:"webhook"`
}

// SlackNotifyConfig is a Slack incoming webhook.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// WebhookNotifyConfig is a generic signed HTTP webhook.
type WebhookNotifyConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"`
}

// ArchiveConfig uploads finished records to S3-compatible storage.
type ArchiveConfig struct {
	Bucket   string `mapstructure:"bucket"   json:"bucket"`
	Prefix   string `mapstructure:"prefix"   json:"prefix"`
	Region   string `mapstructure:"region"   json:"region"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// AccessKey/SecretKey are optional; the default AWS chain is used otherwise.
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
}
