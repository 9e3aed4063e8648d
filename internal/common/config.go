package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	OCR      OCRConfig      `yaml:"ocr"`
	LLM      LLMConfig      `yaml:"llm"`
	Retry    RetryConfig    `yaml:"retry"`
	Chunk    ChunkConfig    `yaml:"chunk"`
	Quality  QualityConfig  `yaml:"quality"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Server   ServerConfig   `yaml:"server"`
	LogLevel string         `yaml:"log_level"`
}

// PathsConfig holds the directory layout shared by the three stages
type PathsConfig struct {
	PDFDir      string `yaml:"pdf_dir"`
	MarkdownDir string `yaml:"markdown_dir"`
	AssetDir    string `yaml:"asset_dir"`
	EnrichedDir string `yaml:"enriched_dir"`
	OutputDir   string `yaml:"output_dir"`
	WorkDir     string `yaml:"work_dir"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine          string `yaml:"engine"`       // exec | gosseract
	PrimaryMode     string `yaml:"primary_mode"` // html | text
	Pdftohtml       string `yaml:"pdftohtml"`
	Pdftotext       string `yaml:"pdftotext"`
	Pdftoppm        string `yaml:"pdftoppm"`
	Tesseract       string `yaml:"tesseract"`
	Language        string `yaml:"language"`
	TessdataDir     string `yaml:"tessdata_dir"`
	DPI             int    `yaml:"dpi"`
	MaxPages        int    `yaml:"max_pages"`
	MinContentChars int    `yaml:"min_content_chars"`
}

// LLMConfig holds remote model configuration
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // openai | gemini
	Model             string        `yaml:"model"`
	VisionModel       string        `yaml:"vision_model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float32       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	ImageConcurrency  int           `yaml:"image_concurrency"`
}

// RetryConfig bounds every remote call
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
	Jitter      float64       `yaml:"jitter"`
}

type ChunkConfig struct {
	MaxBytes int `yaml:"max_bytes"`
}

type QualityConfig struct {
	MinSections int `yaml:"min_sections"`
}

// PipelineConfig holds batch scheduling configuration
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	DocTimeout   time.Duration `yaml:"doc_timeout"`
	QueueSize    int           `yaml:"queue_size"`
	ForceRerun   bool          `yaml:"force"`
	Reanalyze    bool          `yaml:"reanalyze"`
	ReportXLSX   string        `yaml:"report_xlsx"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// LedgerConfig selects the run ledger; an empty DSN disables it
type LedgerConfig struct {
	DSN         string        `yaml:"dsn"`
	MaxConns    int32         `yaml:"max_conns"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ServerConfig holds daemon listen addresses
type ServerConfig struct {
	GRPCAddr  string `yaml:"grpc_addr"`
	HTTPAddr  string `yaml:"http_addr"`
	UploadDir string `yaml:"upload_dir"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			PDFDir:      getEnv("PDF_DIR", "source_documents"),
			MarkdownDir: getEnv("MARKDOWN_DIR", "preprocessed_markdown"),
			AssetDir:    getEnv("ASSET_DIR", "document_assets"),
			EnrichedDir: getEnv("ENRICHED_DIR", "final_markdown"),
			OutputDir:   getEnv("OUTPUT_DIR", "synthesized_output"),
			WorkDir:     getEnv("WORK_DIR", os.TempDir()),
		},
		OCR: OCRConfig{
			Engine:          getEnv("OCR_ENGINE", "exec"),
			PrimaryMode:     getEnv("OCR_PRIMARY_MODE", "html"),
			Pdftohtml:       getEnv("PDFTOHTML_BIN", "pdftohtml"),
			Pdftotext:       getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:        getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:       getEnv("TESSERACT_BIN", "tesseract"),
			Language:        getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:     getEnv("TESSDATA_PREFIX", ""),
			DPI:             getEnvAsInt("OCR_DPI", 300),
			MaxPages:        getEnvAsInt("OCR_MAX_PAGES", 0),
			MinContentChars: getEnvAsInt("OCR_MIN_CONTENT_CHARS", 50),
		},
		LLM: LLMConfig{
			Provider:          getEnv("LLM_PROVIDER", "openai"),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			VisionModel:       getEnv("LLM_VISION_MODEL", ""),
			APIKey:            getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:           getEnv("LLM_BASE_URL", ""),
			Temperature:       getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 90*time.Second),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 4000),
			RequestsPerSecond: getEnvAsFloat("LLM_REQUESTS_PER_SECOND", 1.0),
			ImageConcurrency:  getEnvAsInt("LLM_IMAGE_CONCURRENCY", 4),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 4*time.Second),
			MaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),
			MaxElapsed:  getEnvAsDuration("RETRY_MAX_ELAPSED", 2*time.Minute),
			Jitter:      getEnvAsFloat("RETRY_JITTER", 0.2),
		},
		Chunk: ChunkConfig{
			MaxBytes: getEnvAsInt("CHUNK_MAX_BYTES", 12000),
		},
		Quality: QualityConfig{
			MinSections: getEnvAsInt("QUALITY_MIN_SECTIONS", 2),
		},
		Pipeline: PipelineConfig{
			Workers:      getEnvAsInt("PIPELINE_WORKERS", 2),
			DocTimeout:   getEnvAsDuration("PIPELINE_DOC_TIMEOUT", 15*time.Minute),
			QueueSize:    getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			ForceRerun:   getEnvAsBool("PIPELINE_FORCE", false),
			Reanalyze:    getEnvAsBool("PIPELINE_REANALYZE", false),
			ReportXLSX:   getEnv("PIPELINE_REPORT_XLSX", ""),
			StageTimeout: getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 2*time.Hour),
		},
		Ledger: LedgerConfig{
			DSN:         getEnv("LEDGER_DSN", ""),
			MaxConns:    int32(getEnvAsInt("LEDGER_MAX_CONNS", 4)),
			DialTimeout: getEnvAsDuration("LEDGER_DIAL_TIMEOUT", 10*time.Second),
		},
		Server: ServerConfig{
			GRPCAddr:  getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr:  getEnv("HTTP_ADDR", ":8081"),
			UploadDir: getEnv("UPLOAD_DIR", "api_uploads"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// LoadConfigFile overlays a YAML file on top of the environment configuration.
// Only fields present in the file override.
func LoadConfigFile(path string) (*Config, error) {
	cfg := LoadConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
	}
	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every entrypoint depends on.
// Remote credentials are only required when a stage that calls a model runs.
func (c *Config) Validate(needsLLM bool) error {
	v := NewValidator().
		Field("ocr.primary_mode", c.OCR.PrimaryMode, OneOf("html", "text")).
		Field("ocr.engine", c.OCR.Engine, OneOf("exec", "gosseract")).
		Field("ocr.dpi", c.OCR.DPI, Positive).
		Field("retry.max_attempts", c.Retry.MaxAttempts, Positive).
		Field("chunk.max_bytes", c.Chunk.MaxBytes, Positive).
		Field("pipeline.workers", c.Pipeline.Workers, Positive)
	if needsLLM {
		v.Field("llm.provider", c.LLM.Provider, OneOf("openai", "gemini")).
			Field("llm.api_key", c.LLM.APIKey, Required)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// ParseLogLevel maps the configured level name; unknown names fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
