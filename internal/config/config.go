package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/provtools/userbot/internal/faults"
)

// Config holds all application configuration
type Config struct {
	Jira      JiraConfig      `mapstructure:"jira"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Runlog    RunlogConfig    `mapstructure:"runlog"`
	Status    StatusConfig    `mapstructure:"status"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// JiraConfig holds ticket-store connection settings
type JiraConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Email        string        `mapstructure:"email"`
	APIToken     string        `mapstructure:"api_token"`
	BotAccountID string        `mapstructure:"bot_account_id"`
	Project      string        `mapstructure:"project"`
	APITimeout   time.Duration `mapstructure:"api_timeout"`
}

// BackendConfig holds downstream user/team API settings
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APITimeout time.Duration `mapstructure:"api_timeout"`
}

// SecretsConfig holds secret-store CLI settings
type SecretsConfig struct {
	Command        string        `mapstructure:"command"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PrewarmWorkers int           `mapstructure:"prewarm_workers"`
}

// OpenAIConfig holds AI text-completion settings
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ProcessorConfig holds ticket-loop behavior settings
type ProcessorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	DryRun   bool          `mapstructure:"dry_run"`
}

// RunlogConfig holds run-journal database settings
type RunlogConfig struct {
	Path string `mapstructure:"path"`
}

// StatusConfig holds the watch-mode status endpoint settings
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, faults.Configf("read config file: %v", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, faults.Configf("unmarshal config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("jira.api_timeout", 30*time.Second)
	viper.SetDefault("jira.project", "USERS")

	viper.SetDefault("backend.api_timeout", 30*time.Second)

	viper.SetDefault("secrets.timeout", 20*time.Second)
	viper.SetDefault("secrets.prewarm_workers", 4)

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.timeout", 60*time.Second)

	viper.SetDefault("processor.interval", 5*time.Minute)
	viper.SetDefault("processor.dry_run", false)

	viper.SetDefault("runlog.path", "data/userbot.db")

	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.host", "0.0.0.0")
	viper.SetDefault("status.port", 8080)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("jira.email", "JIRA_EMAIL")
	viper.BindEnv("jira.api_token", "JIRA_API_TOKEN")
	viper.BindEnv("jira.bot_account_id", "JIRA_BOT_ACCOUNT_ID")
	viper.BindEnv("backend.base_url", "BACKEND_BASE_URL")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Jira.BaseURL == "" {
		return faults.Configf("jira.base_url is required")
	}
	if c.Jira.Email == "" {
		return faults.Configf("jira.email is required")
	}
	if c.Jira.APIToken == "" {
		return faults.Configf("jira.api_token is required")
	}
	if c.Jira.BotAccountID == "" {
		return faults.Configf("jira.bot_account_id is required")
	}
	if c.Backend.BaseURL == "" {
		return faults.Configf("backend.base_url is required")
	}
	if c.Secrets.Command == "" {
		return faults.Configf("secrets.command is required")
	}
	if c.OpenAI.APIKey == "" {
		return faults.Configf("openai.api_key is required")
	}
	return nil
}
