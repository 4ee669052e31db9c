package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talentvine/webdesk/internal/logger"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Assessment session configuration
	Assessment AssessmentConfig `yaml:"assessment" json:"assessment"`

	// Recording storage configuration
	Recordings RecordingConfig `yaml:"recordings" json:"recordings"`

	// Candidate Record Service configuration
	CandidateService CandidateServiceConfig `yaml:"candidate_service" json:"candidate_service"`

	// Question bank configuration
	Questions QuestionConfig `yaml:"questions" json:"questions"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"WEBDESK_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"WEBDESK_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"WEBDESK_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WEBDESK_WRITE_TIMEOUT" default:"30s"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"WEBDESK_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"WEBDESK_TRUSTED_PROXIES"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"webdesk"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"webdesk"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"WEBDESK_DATA_DIR" default:"./webdesk-data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"WEBDESK_DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// AssessmentConfig holds proctored session configuration
type AssessmentConfig struct {
	DefaultDuration    time.Duration `yaml:"default_duration" json:"default_duration" env:"WEBDESK_EXAM_DURATION" default:"1h"`
	ViolationThreshold int           `yaml:"violation_threshold" json:"violation_threshold" env:"WEBDESK_VIOLATION_THRESHOLD" default:"3"`
	ViolationDebounce  time.Duration `yaml:"violation_debounce" json:"violation_debounce" env:"WEBDESK_VIOLATION_DEBOUNCE" default:"2s"`
	ChunkInterval      time.Duration `yaml:"chunk_interval" json:"chunk_interval" env:"WEBDESK_CHUNK_INTERVAL" default:"1s"`
	GrantTimeout       time.Duration `yaml:"grant_timeout" json:"grant_timeout" env:"WEBDESK_GRANT_TIMEOUT" default:"2m"`
	CameraWidth        int           `yaml:"camera_width" json:"camera_width" env:"WEBDESK_CAMERA_WIDTH" default:"1280"`
	CameraHeight       int           `yaml:"camera_height" json:"camera_height" env:"WEBDESK_CAMERA_HEIGHT" default:"720"`
}

// RecordingConfig holds recording storage configuration
type RecordingConfig struct {
	DataDir     string `yaml:"data_dir" json:"data_dir" env:"WEBDESK_RECORDINGS_DIR"`
	MaxBlobSize int64  `yaml:"max_blob_size" json:"max_blob_size" env:"WEBDESK_MAX_BLOB_SIZE" default:"1073741824"`
}

// CandidateServiceConfig holds the Candidate Record Service client configuration
type CandidateServiceConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"CANDIDATE_SERVICE_URL" default:"http://localhost:8000/api"`
	APIToken       string        `yaml:"api_token" json:"-" env:"CANDIDATE_SERVICE_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"CANDIDATE_SERVICE_TIMEOUT" default:"30s"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries" env:"CANDIDATE_SERVICE_MAX_RETRIES" default:"5"`
	RetryInterval  time.Duration `yaml:"retry_interval" json:"retry_interval" env:"CANDIDATE_SERVICE_RETRY_INTERVAL" default:"2s"`
}

// QuestionConfig holds question bank configuration
type QuestionConfig struct {
	BankDir   string `yaml:"bank_dir" json:"bank_dir" env:"WEBDESK_QUESTION_DIR"`
	HotReload bool   `yaml:"hot_reload" json:"hot_reload" env:"WEBDESK_QUESTION_HOT_RELOAD" default:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"WEBDESK_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"WEBDESK_LOG_FORMAT" default:"text"`
}

// ConfigManager manages application configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "./webdesk-data",
		},
		Assessment: AssessmentConfig{
			DefaultDuration:    time.Hour,
			ViolationThreshold: 3,
			ViolationDebounce:  2 * time.Second,
			ChunkInterval:      time.Second,
			GrantTimeout:       2 * time.Minute,
			CameraWidth:        1280,
			CameraHeight:       720,
		},
		Recordings: RecordingConfig{
			MaxBlobSize: 1 << 30, // 1GB
		},
		CandidateService: CandidateServiceConfig{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     5,
			RetryInterval:  2 * time.Second,
		},
		Questions: QuestionConfig{
			HotReload: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		logger.Info("Configuration loaded from file: %s", configPath)
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Assessment.ViolationThreshold < 1 {
		return fmt.Errorf("invalid violation threshold: %d", config.Assessment.ViolationThreshold)
	}

	if config.Assessment.ChunkInterval <= 0 {
		return fmt.Errorf("invalid chunk interval: %s", config.Assessment.ChunkInterval)
	}

	if config.Recordings.MaxBlobSize <= 0 {
		return fmt.Errorf("invalid max blob size: %d", config.Recordings.MaxBlobSize)
	}

	if config.CandidateService.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", config.CandidateService.MaxRetries)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "webdesk.db")
	}

	// Set derived recordings dir if not explicitly set
	if config.Recordings.DataDir == "" {
		config.Recordings.DataDir = filepath.Join(config.Database.DataDir, "recordings")
	}

	// Set derived question bank dir if not explicitly set
	if config.Questions.BankDir == "" {
		config.Questions.BankDir = filepath.Join(config.Database.DataDir, "questions")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
