package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the full service configuration, populated from
// environment variables with the defaults below.
type Settings struct {
	// Server
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Database
	DatabaseURL string `mapstructure:"database_url"`

	// Security
	SecretKey                string `mapstructure:"secret_key"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `mapstructure:"refresh_token_expire_days"`

	// Storage
	StorageBasePath         string `mapstructure:"storage_base_path"`
	MaxFileSizeMB           int64  `mapstructure:"max_file_size_mb"`
	MaxFilesPerUserPerMonth int    `mapstructure:"max_files_per_user_per_month"`
	MaxFileAgeHours         int    `mapstructure:"max_file_age_hours"`
	MaxTempFileAgeHours     int    `mapstructure:"max_temp_file_age_hours"`
	TerminalJobRetentionDays int   `mapstructure:"terminal_job_retention_days"`

	// Processing
	ProcessingTimeoutSeconds int `mapstructure:"pdf_processing_timeout_seconds"`
	MaxConcurrentJobs        int `mapstructure:"max_concurrent_jobs"`
	SubmitWaitSeconds        int `mapstructure:"submit_wait_seconds"`
	ShutdownGraceSeconds     int `mapstructure:"shutdown_grace_seconds"`
	CleanupIntervalMinutes   int `mapstructure:"cleanup_interval_minutes"`

	// External tools
	SofficePath     string `mapstructure:"soffice_path"`
	WkhtmltopdfPath string `mapstructure:"wkhtmltopdf_path"`
	OcrmypdfPath    string `mapstructure:"ocrmypdf_path"`
	PdftoppmPath    string `mapstructure:"pdftoppm_path"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads settings from the environment. Every key is also readable
// from an optional .env-style config file in the working directory.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("database_url", "postgres://localhost/pdf_toolkit?sslmode=disable")
	// Registered empty so AutomaticEnv can see the key; Validate
	// rejects the empty value.
	v.SetDefault("secret_key", "")
	v.SetDefault("access_token_expire_minutes", 30)
	v.SetDefault("refresh_token_expire_days", 7)
	v.SetDefault("storage_base_path", "storage")
	v.SetDefault("max_file_size_mb", 100)
	v.SetDefault("max_files_per_user_per_month", 100)
	v.SetDefault("max_file_age_hours", 24)
	v.SetDefault("max_temp_file_age_hours", 1)
	v.SetDefault("terminal_job_retention_days", 30)
	v.SetDefault("pdf_processing_timeout_seconds", 300)
	v.SetDefault("max_concurrent_jobs", 10)
	v.SetDefault("submit_wait_seconds", 5)
	v.SetDefault("shutdown_grace_seconds", 30)
	v.SetDefault("cleanup_interval_minutes", 60)
	v.SetDefault("soffice_path", "soffice")
	v.SetDefault("wkhtmltopdf_path", "wkhtmltopdf")
	v.SetDefault("ocrmypdf_path", "ocrmypdf")
	v.SetDefault("pdftoppm_path", "pdftoppm")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate enforces the configuration invariants. Startup fails (exit
// non-zero) when these do not hold.
func (s *Settings) Validate() error {
	if len(s.SecretKey) < 32 {
		return fmt.Errorf("secret_key must be set and at least 32 characters long")
	}
	if s.AccessTokenExpireMinutes < 1 || s.AccessTokenExpireMinutes > 1440 {
		return fmt.Errorf("access_token_expire_minutes must be between 1 and 1440")
	}
	if s.MaxFileSizeMB < 1 || s.MaxFileSizeMB > 1000 {
		return fmt.Errorf("max_file_size_mb must be between 1 and 1000")
	}
	if s.MaxFilesPerUserPerMonth < 1 || s.MaxFilesPerUserPerMonth > 100000 {
		return fmt.Errorf("max_files_per_user_per_month must be between 1 and 100000")
	}
	if s.ProcessingTimeoutSeconds < 30 || s.ProcessingTimeoutSeconds > 3600 {
		return fmt.Errorf("pdf_processing_timeout_seconds must be between 30 and 3600")
	}
	if s.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1")
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}

// ProcessingTimeout returns the per-job deadline as a duration
func (s *Settings) ProcessingTimeout() time.Duration {
	return time.Duration(s.ProcessingTimeoutSeconds) * time.Second
}

// SubmitWait returns how long a submit may wait for a worker slot
func (s *Settings) SubmitWait() time.Duration {
	return time.Duration(s.SubmitWaitSeconds) * time.Second
}

// ShutdownGrace returns how long shutdown waits for active jobs
func (s *Settings) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

// AccessTokenTTL returns the access token lifetime
func (s *Settings) AccessTokenTTL() time.Duration {
	return time.Duration(s.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime
func (s *Settings) RefreshTokenTTL() time.Duration {
	return time.Duration(s.RefreshTokenExpireDays) * 24 * time.Hour
}

// MaxFileSizeBytes returns the global upload size cap in bytes
func (s *Settings) MaxFileSizeBytes() int64 {
	return s.MaxFileSizeMB * 1024 * 1024
}
