package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Vision    VisionConfig
	R2        R2Config
	OIDC      OIDCConfig
	Analysis  AnalysisConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	AnalysisPerHour int
	CreditsPerMin   int
}

type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type AnalysisConfig struct {
	MaxPages        int
	PageDelayMillis int
	SignedURLExpiry int // minutes
	CreditsPerPage  int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("VISION_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("vision.api_key", "VISION_API_KEY")
	_ = viper.BindEnv("vision.base_url", "VISION_BASE_URL")
	_ = viper.BindEnv("vision.model", "VISION_MODEL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("analysis.max_pages", "ANALYSIS_MAX_PAGES")
	_ = viper.BindEnv("analysis.page_delay_millis", "ANALYSIS_PAGE_DELAY_MILLIS")
	_ = viper.BindEnv("analysis.signed_url_expiry", "ANALYSIS_SIGNED_URL_EXPIRY")
	_ = viper.BindEnv("analysis.credits_per_page", "ANALYSIS_CREDITS_PER_PAGE")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.analysis_per_hour", 10)
	viper.SetDefault("ratelimit.credits_per_min", 60)

	// Vision defaults
	viper.SetDefault("vision.base_url", "https://api.openai.com/v1")
	viper.SetDefault("vision.model", "gpt-4o-mini")

	// Analysis defaults
	viper.SetDefault("analysis.max_pages", 50)
	viper.SetDefault("analysis.page_delay_millis", 500)
	viper.SetDefault("analysis.signed_url_expiry", 60)
	viper.SetDefault("analysis.credits_per_page", 1)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			AnalysisPerHour: viper.GetInt("ratelimit.analysis_per_hour"),
			CreditsPerMin:   viper.GetInt("ratelimit.credits_per_min"),
		},
		Vision: VisionConfig{
			APIKey:  viper.GetString("vision.api_key"),
			BaseURL: viper.GetString("vision.base_url"),
			Model:   viper.GetString("vision.model"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		OIDC: OIDCConfig{
			Domain:   viper.GetString("oidc.domain"),
			ClientID: viper.GetString("oidc.client_id"),
			Issuer:   viper.GetString("oidc.issuer"),
		},
		Analysis: AnalysisConfig{
			MaxPages:        viper.GetInt("analysis.max_pages"),
			PageDelayMillis: viper.GetInt("analysis.page_delay_millis"),
			SignedURLExpiry: viper.GetInt("analysis.signed_url_expiry"),
			CreditsPerPage:  viper.GetInt("analysis.credits_per_page"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate fails fast on configuration that would otherwise surface
// mid-pipeline as a confusing worker error.
func (c *Config) validate() error {
	if c.Analysis.MaxPages <= 0 {
		return fmt.Errorf("analysis.max_pages must be positive")
	}
	if c.Analysis.CreditsPerPage <= 0 {
		return fmt.Errorf("analysis.credits_per_page must be positive")
	}
	if c.Server.Env == "production" && c.JWT.Secret == "change-me-in-production" && c.OIDC.Issuer == "" {
		return fmt.Errorf("no usable auth configured: set JWT_SECRET or OIDC_ISSUER")
	}
	return nil
}
