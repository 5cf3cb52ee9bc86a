package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
	Table    string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// GatewayConfig drives the outbound delivery-channel client. Timeout
// bounds each gateway call and is deliberately shorter than the
// server's request timeout.
type GatewayConfig struct {
	BaseURL         string
	Timeout         time.Duration
	CheckTimeout    time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	MessageTemplate string
}

// OTPConfig is the verification policy surface.
type OTPConfig struct {
	CodeLength         int
	TTL                time.Duration
	Cooldown           time.Duration
	MaxAttempts        int
	Retention          time.Duration
	DefaultCountryCode string
	PhonePattern       string
}

type SessionConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
}

type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

type BucketingConfig struct {
	UserBuckets int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Gateway       GatewayConfig
	OTP           OTPConfig
	Session       SessionConfig
	Sweep         SweepConfig
	Bucketing     BucketingConfig
	RateLimit     RateLimitConfig
}

// LoadConfig reads configuration from environment variables, loading a
// .env file first outside production.
func LoadConfig() *Config {
	env := getEnv("ENV", "development")
	if strings.ToLower(env) != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found; continuing with environment variables")
		}
	}

	cfg := &Config{
		Environment: strings.ToLower(env),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", nil),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "phone_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "auth-audit-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "analytics"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("CLICKHOUSE_EVENTS_TABLE", "verification_events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_AUDIT_INDEX", "auth-audit"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "eu-west-1"),
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnv("GATEWAY_BASE_URL", "http://localhost:3001"),
			Timeout:       getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
			CheckTimeout:  getEnvDuration("GATEWAY_CHECK_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvInt("GATEWAY_RETRY_ATTEMPTS", 2),
			RetryDelay:    getEnvDuration("GATEWAY_RETRY_DELAY", time.Second),
			MessageTemplate: getEnv("GATEWAY_MESSAGE_TEMPLATE",
				"Your verification code is {code}. It expires in {ttl} minutes."),
		},
		OTP: OTPConfig{
			CodeLength:         getEnvInt("OTP_CODE_LENGTH", 6),
			TTL:                getEnvDuration("OTP_TTL", 5*time.Minute),
			Cooldown:           getEnvDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			MaxAttempts:        getEnvInt("OTP_MAX_ATTEMPTS", 3),
			Retention:          getEnvDuration("OTP_RETENTION", time.Hour),
			DefaultCountryCode: getEnv("PHONE_DEFAULT_COUNTRY_CODE", "+237"),
			PhonePattern:       getEnv("PHONE_PATTERN", `^\+[1-9][0-9]{7,14}$`),
		},
		Session: SessionConfig{
			AccessTTL:     getEnvDuration("SESSION_ACCESS_TTL", 7*24*time.Hour),
			RefreshTTL:    getEnvDuration("SESSION_REFRESH_TTL", 30*24*time.Hour),
			RotateRefresh: getEnvBool("SESSION_ROTATE_REFRESH", false),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvBool("SWEEP_ENABLED", true),
			Interval: getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		},
		Bucketing: BucketingConfig{
			UserBuckets: getEnvInt("USER_BUCKETS", 256),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		},
	}

	if cfg.IsProduction() {
		var missing []string
		if len(cfg.Scylla.Nodes) == 0 {
			missing = append(missing, "SCYLLA_NODES")
		}
		if cfg.Redis.URL == "" {
			missing = append(missing, "REDIS_URL")
		}
		if cfg.Gateway.BaseURL == "" {
			missing = append(missing, "GATEWAY_BASE_URL")
		}
		if cfg.KMS.Enabled && cfg.KMS.KeyID == "" {
			missing = append(missing, "KMS_KEY_ID")
		}
		if len(missing) > 0 {
			log.Fatalf("Missing required production environment variables: %v", missing)
		}
	}

	return cfg
}

func (c *Config) IsProduction() bool  { return c.Environment == "production" }
func (c *Config) IsDevelopment() bool { return !c.IsProduction() }

func (c *Config) GetServerAddress() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: could not parse env var %s as integer, using default", key)
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: could not parse env var %s as duration, using default", key)
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
