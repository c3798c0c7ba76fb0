package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

type Cfg struct {
	Port           string
	Environment    string
	LogLevel       string
	Log            LogCfg
	MaxPasteSize   int64
	MaxDecodedSize int64
	IDLength       int

	StorageBackend   string
	StorageRetries   int
	StorageRetryBase time.Duration
	DatabasePath     string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBQueryTimeout   time.Duration
	WALInterval      time.Duration
	PostgresURL      Secret
	S3               S3Cfg

	RedisURL      string
	RedisTLS      bool
	RedisHostname string
	RedisCACert   string
	RedisUsername string
	RedisPassword Secret
	RedisTimeout  time.Duration

	EdgeCacheSize   int
	EdgeCacheTTL    time.Duration
	EdgeCacheMaxTTL time.Duration

	SchedulerWorkers int
	SchedulerQueue   int

	SentryDSN        Secret
	SentrySampleRate float64

	TrustedProxies      []string
	AllowedOrigins      []string
	MetricsUser         string
	MetricsPass         Secret
	ContextTimeout      time.Duration
	SecretsFromProvider bool
}

type LogCfg struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

type S3Cfg struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey Secret
	Prefix    string
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// that are already set win over the file.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve env file")
	}
	if err := godotenv.Load(abs); err != nil {
		return errors.Wrapf(err, "load env file %s", abs)
	}
	return nil
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Log.FilePath = getEnv("LOG_FILE_PATH", "")
	c.Log.Compress = getEnv("LOG_COMPRESS", "false") == "true"
	var err error
	c.Log.MaxSizeMB, err = getInt("LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return nil, err
	}
	c.Log.MaxBackups, err = getInt("LOG_MAX_BACKUPS", 5)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 256*1024)
	if err != nil {
		return nil, err
	}
	c.MaxDecodedSize, err = getInt64("MAX_DECODED_SIZE", 8*1024*1024)
	if err != nil {
		return nil, err
	}
	c.IDLength, err = getInt("ID_LENGTH", 9)
	if err != nil {
		return nil, err
	}

	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", BackendSQLite))
	c.StorageRetries, err = getInt("STORAGE_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	c.StorageRetryBase, err = getDuration("STORAGE_RETRY_BASE", 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	c.DatabasePath = getEnv("DATABASE_PATH", "pobbin.db")
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.WALInterval, err = getDuration("WAL_CHECKPOINT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	c.PostgresURL = NewSecret(getEnv("POSTGRES_URL", ""))
	c.S3.Bucket = getEnv("S3_BUCKET", "")
	c.S3.Region = getEnv("S3_REGION", "us-east-1")
	c.S3.Endpoint = getEnv("S3_ENDPOINT", "")
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", "")
	c.S3.SecretKey = NewSecret(getEnv("S3_SECRET_KEY", ""))
	c.S3.Prefix = getEnv("S3_PREFIX", "")

	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisHostname = getEnv("REDIS_HOSTNAME", "")
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.EdgeCacheSize, err = getInt("EDGE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.EdgeCacheTTL, err = getDuration("EDGE_CACHE_TTL", 1*time.Hour)
	if err != nil {
		return nil, err
	}
	c.EdgeCacheMaxTTL, err = getDuration("EDGE_CACHE_MAX_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.SchedulerWorkers, err = getInt("SCHEDULER_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	c.SchedulerQueue, err = getInt("SCHEDULER_QUEUE", 256)
	if err != nil {
		return nil, err
	}

	c.SentryDSN = NewSecret(getEnv("SENTRY_DSN", ""))
	c.SentrySampleRate, err = getFloat("SENTRY_SAMPLE_RATE", 1.0)
	if err != nil {
		return nil, err
	}

	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.SecretsFromProvider = getEnv("SECRETS_FROM_PROVIDER", "false") == "true"
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}

	switch c.StorageBackend {
	case BackendSQLite:
		if err := validateDBPath(c.DatabasePath); err != nil {
			return err
		}
	case BackendPostgres:
		if c.PostgresURL.Value() == "" && !c.SecretsFromProvider {
			return errors.New("POSTGRES_URL is required for STORAGE_BACKEND=postgres")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for STORAGE_BACKEND=s3")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey.Value() == "") && !c.SecretsFromProvider {
			return errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	case BackendMemory:
		if c.Environment == "production" {
			return errors.New("STORAGE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.StorageRetries < 0 || c.StorageRetries > 10 {
		return errors.New("STORAGE_RETRIES must be between 0 and 10")
	}
	if c.StorageRetryBase <= 0 {
		return errors.New("STORAGE_RETRY_BASE must be positive")
	}

	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
		if c.RedisTLS && c.RedisHostname == "" {
			return errors.New("REDIS_HOSTNAME must be set when REDIS_TLS=true")
		}
	}

	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxDecodedSize < c.MaxPasteSize {
		return errors.New("MAX_DECODED_SIZE must be at least MAX_PASTE_SIZE")
	}
	if c.IDLength < 6 || c.IDLength > 32 {
		return errors.New("ID_LENGTH must be between 6 and 32")
	}

	if c.EdgeCacheSize <= 0 {
		return errors.New("EDGE_CACHE_SIZE must be positive")
	}
	if c.EdgeCacheTTL <= 0 {
		return errors.New("EDGE_CACHE_TTL must be positive")
	}
	if c.EdgeCacheMaxTTL < c.EdgeCacheTTL {
		return errors.New("EDGE_CACHE_MAX_TTL must be >= EDGE_CACHE_TTL")
	}
	if c.SchedulerWorkers <= 0 {
		return errors.New("SCHEDULER_WORKERS must be positive")
	}
	if c.SchedulerQueue <= 0 {
		return errors.New("SCHEDULER_QUEUE must be positive")
	}
	if c.SentrySampleRate < 0 || c.SentrySampleRate > 1 {
		return errors.New("SENTRY_SAMPLE_RATE must be between 0 and 1")
	}

	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}

	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func validateDBPath(path string) error {
	if path == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if strings.HasPrefix(path, "file:") {
		return nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absDBPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_PATH: %w", err)
	}
	if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
		return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
	}
	return nil
}
// SecretTargets maps provider keys to the secret fields they may fill.
func (c *Cfg) SecretTargets() map[string]*Secret {
	return map[string]*Secret{
		"POSTGRES_URL":   &c.PostgresURL,
		"S3_SECRET_KEY":  &c.S3.SecretKey,
		"REDIS_PASSWORD": &c.RedisPassword,
		"SENTRY_DSN":     &c.SentryDSN,
		"METRICS_PASS":   &c.MetricsPass,
	}
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.PostgresURL.Wipe()
	c.S3.SecretKey.Wipe()
	c.SentryDSN.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
