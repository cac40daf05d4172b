// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Target languages and execution strategies accepted by Validate.
const (
	LanguagePython = "python"
	LanguageLua    = "lua"

	ExecutorSubprocess = "subprocess"
	ExecutorDocker     = "docker"
	ExecutorLua        = "lua"
)

// Config holds all application configuration.
type Config struct {
	// Generation service.
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	Temperature   float32
	GenTimeout    time.Duration

	// Retry loop.
	MaxAttempts    int
	TargetLanguage string

	// Execution.
	Executor      string
	ExecTimeout   time.Duration
	PythonBin     string
	LuaBin        string
	ExecImage     string
	ExecMemoryMB  int64
	ExecCPUQuota  int64
	ExecPidsLimit int64

	// Artifact handling.
	ArtifactDir   string
	ArtifactName  string
	FormatCmd     string
	OpenOnSuccess bool

	// Server.
	Port              string
	FrontendURL       string
	DBPath            string
	MaxActiveSessions int
	SessionRetention  time.Duration
	RetentionInterval time.Duration

	Transcript TranscriptConfig

	// Logging.
	LogLevel  string
	LogFormat string
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled    bool
	Dir        string
	GlobalPath string
	QueueSize  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	language := strings.ToLower(getEnv("TARGET_LANGUAGE", LanguagePython))

	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		Model:         getEnv("GEN_MODEL", "gpt-4o-mini"),
		Temperature:   getEnvFloat32("GEN_TEMPERATURE", 0.4),
		GenTimeout:    getEnvDuration("GEN_TIMEOUT", 120*time.Second),

		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 5),
		TargetLanguage: language,

		Executor:      strings.ToLower(getEnv("EXECUTOR", ExecutorSubprocess)),
		ExecTimeout:   getEnvDuration("EXEC_TIMEOUT", 30*time.Second),
		PythonBin:     getEnv("PYTHON_BIN", "python3"),
		LuaBin:        getEnv("LUA_BIN", "lua"),
		ExecImage:     getEnv("EXEC_IMAGE", "python:3.12-alpine"),
		ExecMemoryMB:  getEnvInt64("EXEC_MEMORY_MB", 256),
		ExecCPUQuota:  getEnvInt64("EXEC_CPU_QUOTA", 50000),
		ExecPidsLimit: getEnvInt64("EXEC_PIDS_LIMIT", 128),

		ArtifactDir:   getEnv("ARTIFACT_DIR", "./artifacts"),
		ArtifactName:  getEnv("ARTIFACT_NAME", defaultArtifactName(language)),
		FormatCmd:     getEnv("FORMAT_CMD", ""),
		OpenOnSuccess: getEnvBool("OPEN_ON_SUCCESS", false),

		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:8080"),
		DBPath:            getEnv("DB_PATH", "./supercoder.db"),
		MaxActiveSessions: getEnvInt("MAX_ACTIVE_SESSIONS", 4),
		SessionRetention:  getEnvDuration("SESSION_RETENTION", 720*time.Hour),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", time.Hour),

		Transcript: TranscriptConfig{
			Enabled:    getEnvBool("TRANSCRIPT_ENABLED", false),
			Dir:        getEnv("TRANSCRIPT_DIR", "./transcripts"),
			GlobalPath: getEnv("TRANSCRIPT_GLOBAL", ""),
			QueueSize:  queueSize,
		},

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// The API key is checked at client construction, not here, so commands
// that never talk to the generation service still work without one.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("GEN_MODEL cannot be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("GEN_TEMPERATURE must be between 0 and 2")
	}
	if c.GenTimeout <= 0 {
		return fmt.Errorf("GEN_TIMEOUT must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	switch c.TargetLanguage {
	case LanguagePython, LanguageLua:
	default:
		return fmt.Errorf("TARGET_LANGUAGE must be %q or %q", LanguagePython, LanguageLua)
	}
	switch c.Executor {
	case ExecutorSubprocess, ExecutorDocker, ExecutorLua:
	default:
		return fmt.Errorf("EXECUTOR must be %q, %q, or %q", ExecutorSubprocess, ExecutorDocker, ExecutorLua)
	}
	// The in-process interpreter runs Lua and nothing else; the other
	// strategies run whatever interpreter they are configured with.
	if c.Executor == ExecutorLua && c.TargetLanguage != LanguageLua {
		return fmt.Errorf("EXECUTOR=lua requires TARGET_LANGUAGE=lua")
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be positive")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("ARTIFACT_DIR cannot be empty")
	}
	if c.ArtifactName == "" {
		return fmt.Errorf("ARTIFACT_NAME cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxActiveSessions < 1 {
		return fmt.Errorf("MAX_ACTIVE_SESSIONS must be at least 1")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty when transcripts are enabled")
	}
	return nil
}

// InterpreterBin returns the host interpreter for the target language,
// used by the subprocess executor and inside containers.
func (c *Config) InterpreterBin() string {
	if c.TargetLanguage == LanguageLua {
		return c.LuaBin
	}
	return c.PythonBin
}

// IsDevelopment returns true if running against a local frontend.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultArtifactName(language string) string {
	if language == LanguageLua {
		return "code_generate.lua"
	}
	return "code_generate.py"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
