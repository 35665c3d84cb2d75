// Package config reads the dealsync settings from the environment (and a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chmdznr/deal-drive-sync/internal/sync"
)

const (
	BackendDrive = "drive"
	BackendMinio = "minio"
)

type Config struct {
	SyncEnabled bool
	Concurrency int
	Retry       sync.RetryPolicy

	StoreBackend string

	DriveID              string
	DriveName            string
	DriveCredentialsJSON string
	DriveCredentialsFile string
	ShareDomain          string
	ShareRole            string

	MinioEndpoint  string
	MinioBucket    string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
	MinioPrefix    string

	CRMBaseURL      string
	CRMAPIToken     string
	CRMBudgetField  string
	CRMServiceField string
	FieldCacheTTL   time.Duration

	LedgerDriver string
	LedgerDSN    string

	RedisAddress string
	LogLevel     string
	HTTPAddr     string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		SyncEnabled: boolEnv("SYNC_ENABLED", true, &errs),
		Concurrency: intEnv("SYNC_CONCURRENCY", 3, &errs),

		StoreBackend: strings.ToLower(stringEnv("STORE_BACKEND", BackendDrive)),

		DriveID:              os.Getenv("DRIVE_ID"),
		DriveName:            os.Getenv("DRIVE_NAME"),
		DriveCredentialsJSON: os.Getenv("DRIVE_CREDENTIALS_JSON"),
		DriveCredentialsFile: os.Getenv("DRIVE_CREDENTIALS_FILE"),
		ShareDomain:          os.Getenv("SHARE_DOMAIN"),
		ShareRole:            stringEnv("SHARE_ROLE", "reader"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioBucket:    os.Getenv("MINIO_BUCKET"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioSecure:    boolEnv("MINIO_SECURE", true, &errs),
		MinioPrefix:    os.Getenv("MINIO_PREFIX"),

		CRMBaseURL:      os.Getenv("CRM_BASE_URL"),
		CRMAPIToken:     os.Getenv("CRM_API_TOKEN"),
		CRMBudgetField:  os.Getenv("CRM_BUDGET_FIELD"),
		CRMServiceField: os.Getenv("CRM_SERVICE_FIELD"),
		FieldCacheTTL:   durationEnv("CRM_FIELD_CACHE_TTL", 10*time.Minute, &errs),

		LedgerDriver: strings.ToLower(stringEnv("LEDGER_DRIVER", "sqlite")),
		LedgerDSN:    stringEnv("LEDGER_DSN", "dealsync.db"),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),
		LogLevel:     stringEnv("LOG_LEVEL", "info"),
		HTTPAddr:     stringEnv("HTTP_ADDR", ":8080"),
	}

	retry, err := ParseRetryPolicy(os.Getenv("SYNC_RETRY_ATTEMPTS"), os.Getenv("SYNC_RETRY_DELAYS"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Retry = retry

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports settings that make the process unusable. A misconfigured content store is
// not one of them: it is reported by StoreEnabled and degrades sync instead.
func (c *Config) Validate() error {
	var errs []error
	if c.CRMBaseURL == "" {
		errs = append(errs, errors.New("CRM_BASE_URL is required"))
	}
	if c.CRMAPIToken == "" {
		errs = append(errs, errors.New("CRM_API_TOKEN is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	switch c.LedgerDriver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER must be sqlite or mysql, got %q", c.LedgerDriver))
	}
	if c.LedgerDSN == "" {
		errs = append(errs, errors.New("LEDGER_DSN is required"))
	}
	return errors.Join(errs...)
}

// StoreEnabled tells whether document sync may talk to the content store and, when it may
// not, why.
func (c *Config) StoreEnabled() (bool, string) {
	if !c.SyncEnabled {
		return false, "disabled by SYNC_ENABLED"
	}
	switch c.StoreBackend {
	case BackendDrive:
		if c.DriveID == "" && c.DriveName == "" {
			return false, "DRIVE_ID or DRIVE_NAME is not configured"
		}
		if c.DriveCredentialsJSON == "" && c.DriveCredentialsFile == "" {
			return false, "drive credentials are not configured"
		}
	case BackendMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return false, "MINIO_ENDPOINT or MINIO_BUCKET is not configured"
		}
	default:
		return false, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return true, ""
}

// ParseRetryPolicy reads an attempt count and a comma-separated list of delays such as
// "500ms,1500ms". Empty values keep the defaults.
func ParseRetryPolicy(attempts, delays string) (sync.RetryPolicy, error) {
	policy := sync.DefaultRetryPolicy()
	if attempts = strings.TrimSpace(attempts); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n < 1 {
			return policy, fmt.Errorf("SYNC_RETRY_ATTEMPTS must be a positive integer, got %q", attempts)
		}
		policy.Attempts = n
	}
	if delays = strings.TrimSpace(delays); delays != "" {
		var parsed []time.Duration
		for _, part := range strings.Split(delays, ",") {
			d, err := time.ParseDuration(strings.TrimSpace(part))
			if err != nil || d < 0 {
				return policy, fmt.Errorf("SYNC_RETRY_DELAYS has an invalid delay %q", part)
			}
			parsed = append(parsed, d)
		}
		policy.Delays = parsed
	}
	return policy, nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func intEnv(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}
