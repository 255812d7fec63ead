package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Datasets   DatasetsConfig   `yaml:"datasets" mapstructure:"datasets"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Rates      RatesConfig      `yaml:"rates" mapstructure:"rates"`
	Allocation AllocationConfig `yaml:"allocation" mapstructure:"allocation"`
	Analyze    AnalyzeConfig    `yaml:"analyze" mapstructure:"analyze"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatasetsConfig locates transaction spreadsheets and their invoice scans.
type DatasetsConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	InvoiceDir string `yaml:"invoice_dir" mapstructure:"invoice_dir"`
	RunLogDir  string `yaml:"run_log_dir" mapstructure:"run_log_dir"`
	SheetName  string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds reasoning-service settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetrievalConfig holds semantic-search service settings.
type RetrievalConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TopK        int    `yaml:"top_k" mapstructure:"top_k"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractConfig configures invoice text extraction.
type ExtractConfig struct {
	Recognizer   string `yaml:"recognizer" mapstructure:"recognizer"` // "tesseract", "mistral", or "none"
	TessdataPath string `yaml:"tessdata_path" mapstructure:"tessdata_path"`
	MistralKey   string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	PageBudget   int    `yaml:"page_budget" mapstructure:"page_budget"`
	MinChars     int    `yaml:"min_chars" mapstructure:"min_chars"`
	PreviewChars int    `yaml:"preview_chars" mapstructure:"preview_chars"`
}

// RatesConfig locates the jurisdiction rate reference table.
type RatesConfig struct {
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
	SourceURL string `yaml:"source_url" mapstructure:"source_url"`
	FTPHost   string `yaml:"ftp_host" mapstructure:"ftp_host"`
	FTPPath   string `yaml:"ftp_path" mapstructure:"ftp_path"`
}

// AllocationConfig locates the methodology allocation table.
type AllocationConfig struct {
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
}

// AnalyzeConfig configures orchestrator behavior.
type AnalyzeConfig struct {
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`
}

// TemporalConfig configures the optional distributed worker pool.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REFUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a meaningful default still get an empty one:
	// viper only surfaces a key to Unmarshal when it has a default, a file
	// entry, or an explicit binding, so a bare AutomaticEnv key would be
	// unreachable from the environment.
	v.SetDefault("datasets.dir", "data/datasets")
	v.SetDefault("datasets.invoice_dir", "data/invoices")
	v.SetDefault("datasets.run_log_dir", "runs")
	v.SetDefault("datasets.sheet_name", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "refund.db")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("anthropic.rps", 2.0)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("retrieval.base_url", "")
	v.SetDefault("retrieval.key", "")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.timeout_secs", 15)
	v.SetDefault("extract.recognizer", "tesseract")
	v.SetDefault("extract.tessdata_path", "")
	v.SetDefault("extract.mistral_api_key", "")
	v.SetDefault("extract.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("extract.page_budget", 5)
	v.SetDefault("extract.min_chars", 120)
	v.SetDefault("extract.preview_chars", 6000)
	v.SetDefault("rates.table_path", "data/tx_rates.yaml")
	v.SetDefault("rates.source_url", "")
	v.SetDefault("rates.ftp_host", "")
	v.SetDefault("rates.ftp_path", "")
	v.SetDefault("allocation.table_path", "data/allocations.yaml")
	v.SetDefault("analyze.max_workers", 1)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
