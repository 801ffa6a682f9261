package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Handle    HandleSettings    `mapstructure:"handle"`
	Risk      RiskSettings      `mapstructure:"risk"`
	MFA       MFASettings       `mapstructure:"mfa"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type TelemetrySettings struct {
	MetricsPort     int     `mapstructure:"metrics_port"`
	TracingEndpoint string  `mapstructure:"tracing_endpoint"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	ServiceName     string  `mapstructure:"service_name"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
}

// HandleSettings configures handle validation and suggestion generation
type HandleSettings struct {
	VerdictCacheTTL          time.Duration `mapstructure:"verdict_cache_ttl"`
	SuggestionLimit          int           `mapstructure:"suggestion_limit"`
	SuggestionBudget         int           `mapstructure:"suggestion_budget"`
	AliasThresholdSlack      float64       `mapstructure:"alias_threshold_slack"`
	ReservedThresholdCeiling float64       `mapstructure:"reserved_threshold_ceiling"`
	ProtectedRefreshInterval time.Duration `mapstructure:"protected_refresh_interval"`
}

// RiskSettings configures assessment caching and velocity windows
type RiskSettings struct {
	AssessmentCacheTTL      time.Duration `mapstructure:"assessment_cache_ttl"`
	VelocityWindow          time.Duration `mapstructure:"velocity_window"`
	IPAttemptThreshold      int           `mapstructure:"ip_attempt_threshold"`
	AccountAttemptThreshold int           `mapstructure:"account_attempt_threshold"`
	SignupWindow            time.Duration `mapstructure:"signup_window"`
	SignupAttemptThreshold  int           `mapstructure:"signup_attempt_threshold"`
}

// MFASettings configures challenge lifetimes, attempt budgets and the
// envelope master key. MasterKey is the base64 key material and never has a
// config-file default; it arrives via environment in production.
type MFASettings struct {
	ChallengeTTL             time.Duration `mapstructure:"challenge_ttl"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	LockoutDuration          time.Duration `mapstructure:"lockout_duration"`
	BackupCodeCount          int           `mapstructure:"backup_code_count"`
	BackupCodeLength         int           `mapstructure:"backup_code_length"`
	TOTPSkewSteps            int           `mapstructure:"totp_skew_steps"`
	BiometricEnrollQuality   float64       `mapstructure:"biometric_enroll_quality"`
	BiometricVerifyThreshold float64       `mapstructure:"biometric_verify_threshold"`
	BiometricStrongThreshold float64       `mapstructure:"biometric_strong_threshold"`
	IssuerLabel              string        `mapstructure:"issuer_label"`
	MasterKeyID              string        `mapstructure:"master_key_id"`
	MasterKey                string        `mapstructure:"master_key"`
	TokenSecret              string        `mapstructure:"token_secret"`
	TokenTTL                 time.Duration `mapstructure:"token_ttl"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ENTATIVA")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.metrics_port",
		"telemetry.tracing_endpoint",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"handle.verdict_cache_ttl",
		"handle.suggestion_limit",
		"handle.suggestion_budget",
		"handle.alias_threshold_slack",
		"handle.reserved_threshold_ceiling",
		"handle.protected_refresh_interval",
		"risk.assessment_cache_ttl",
		"risk.velocity_window",
		"risk.ip_attempt_threshold",
		"risk.account_attempt_threshold",
		"risk.signup_window",
		"risk.signup_attempt_threshold",
		"mfa.challenge_ttl",
		"mfa.max_attempts",
		"mfa.lockout_duration",
		"mfa.backup_code_count",
		"mfa.backup_code_length",
		"mfa.totp_skew_steps",
		"mfa.biometric_enroll_quality",
		"mfa.biometric_verify_threshold",
		"mfa.biometric_strong_threshold",
		"mfa.issuer_label",
		"mfa.master_key_id",
		"mfa.master_key",
		"mfa.token_secret",
		"mfa.token_ttl",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "id-security")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "id_security")
	v.SetDefault("postgres.password", "id_security_password")
	v.SetDefault("postgres.database", "id_security")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "idsec")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "id")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.tracing_endpoint", "http://localhost:4317")
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "id-security")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("handle.verdict_cache_ttl", "10m")
	v.SetDefault("handle.suggestion_limit", 5)
	v.SetDefault("handle.suggestion_budget", 50)
	v.SetDefault("handle.alias_threshold_slack", 0.07)
	v.SetDefault("handle.reserved_threshold_ceiling", 0.60)
	v.SetDefault("handle.protected_refresh_interval", "5m")

	v.SetDefault("risk.assessment_cache_ttl", "5m")
	v.SetDefault("risk.velocity_window", "10m")
	v.SetDefault("risk.ip_attempt_threshold", 8)
	v.SetDefault("risk.account_attempt_threshold", 5)
	v.SetDefault("risk.signup_window", "1h")
	v.SetDefault("risk.signup_attempt_threshold", 3)

	v.SetDefault("mfa.challenge_ttl", "10m")
	v.SetDefault("mfa.max_attempts", 5)
	v.SetDefault("mfa.lockout_duration", "5m")
	v.SetDefault("mfa.backup_code_count", 10)
	v.SetDefault("mfa.backup_code_length", 10)
	v.SetDefault("mfa.totp_skew_steps", 1)
	v.SetDefault("mfa.biometric_enroll_quality", 0.7)
	v.SetDefault("mfa.biometric_verify_threshold", 0.85)
	v.SetDefault("mfa.biometric_strong_threshold", 0.95)
	v.SetDefault("mfa.issuer_label", "Entativa ID")
	v.SetDefault("mfa.master_key_id", "local-dev")
	v.SetDefault("mfa.token_ttl", "10m")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "ENTATIVA_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
