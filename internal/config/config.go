// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/joho/godotenv"
)

// ErrNoCredentials means the configured key variable is empty. Fatal at startup.
var ErrNoCredentials = errors.New("no API credentials configured")

// DefaultKeysVar is the variable holding the comma-separated API keys
const DefaultKeysVar = "ALPHAVANTAGE_API_KEYS"

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for the database, checkpoints and logs (always absolute)
	DBPath        string
	CheckpointDir string
	EnvFile       string // .env file minted keys are written back to
	LogLevel      string
	LogPretty     bool
	LogFile       string // Optional JSON copy of every log line
	HTTPAddr      string // Status server address for `serve`
	Schedule      string // Cron schedule for `serve` (seconds field included)
	Maintenance   string // Cron schedule for database checks and sweep log cleanup
	SweepLogDays  int    // Sweep log retention

	Harvest      HarvestConfig
	AlphaVantage AlphaVantageConfig
	VPN          VPNConfig
	Signup       SignupConfig
	Backup       BackupConfig
}

// HarvestConfig describes the task grids
type HarvestConfig struct {
	KeysVar     string
	APIKeys     []string
	Kinds       []domain.ResourceKind
	Tickers     []string // Explicit list; empty means the tickers file or stored overview symbols
	TickersFile string
	Exclude     []string
	Start       domain.Period
	End         domain.Period
}

// AlphaVantageConfig holds data source client settings
type AlphaVantageConfig struct {
	BaseURL            string
	IntradayInterval   string
	MinRequestInterval time.Duration
	HTTPTimeout        time.Duration
}

// VPNConfig controls network identity rotation
type VPNConfig struct {
	Enabled bool
	Binary  string
	Country string
	Settle  time.Duration
	Timeout time.Duration
}

// SignupConfig controls credential minting. Minting is disabled when EmailTemplate is empty.
type SignupConfig struct {
	URL              string
	EmailTemplate    string // must contain {n}
	FirstName        string
	LastName         string
	Occupation       string
	Organization     string
	CSRFToken        string
	KeyLogFile       string
	BaseIndex        int
	MaxEmailAttempts int
}

// BackupConfig holds S3/R2 backup settings. Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionDays   int
}

// Enabled reports whether minting is configured
func (s SignupConfig) Enabled() bool {
	return s.EmailTemplate != ""
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from the .env file and environment variables
func Load() (*Config, error) {
	envFile := getEnv("HARVEST_ENV_FILE", ".env")
	// Load .env file if it exists
	_ = godotenv.Load(envFile)

	dataDir := getEnv("HARVEST_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	harvest, err := loadHarvestConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:       absDataDir,
		DBPath:        getEnv("HARVEST_DB_PATH", filepath.Join(absDataDir, "alpha_vantage.db")),
		CheckpointDir: getEnv("HARVEST_CHECKPOINT_DIR", filepath.Join(absDataDir, "checkpoints")),
		EnvFile:       envFile,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", true),
		LogFile:       getEnv("HARVEST_LOG_FILE", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8090"),
		Schedule:      getEnv("HARVEST_SCHEDULE", "0 0 2 * * *"),
		Maintenance:   getEnv("HARVEST_MAINTENANCE_SCHEDULE", "0 30 1 * * *"),
		SweepLogDays:  getEnvAsInt("HARVEST_SWEEP_LOG_DAYS", 90),
		Harvest:       harvest,
		AlphaVantage: AlphaVantageConfig{
			BaseURL:            getEnv("AV_BASE_URL", "https://www.alphavantage.co/query"),
			IntradayInterval:   getEnv("AV_INTRADAY_INTERVAL", "60min"),
			MinRequestInterval: getEnvAsDuration("AV_MIN_REQUEST_INTERVAL", 0),
			HTTPTimeout:        getEnvAsDuration("AV_HTTP_TIMEOUT", 30*time.Second),
		},
		VPN: VPNConfig{
			Enabled: getEnvAsBool("VPN_ENABLED", false),
			Binary:  getEnv("VPN_BINARY", "nordvpn"),
			Country: getEnv("VPN_COUNTRY", "United_States"),
			Settle:  getEnvAsDuration("VPN_SETTLE", 5*time.Second),
			Timeout: getEnvAsDuration("VPN_TIMEOUT", time.Minute),
		},
		Signup: SignupConfig{
			URL:              getEnv("AV_SIGNUP_URL", "https://www.alphavantage.co/create_post/"),
			EmailTemplate:    getEnv("AV_SIGNUP_EMAIL_TEMPLATE", ""),
			FirstName:        getEnv("AV_SIGNUP_FIRST_NAME", "Data"),
			LastName:         getEnv("AV_SIGNUP_LAST_NAME", "Harvester"),
			Occupation:       getEnv("AV_SIGNUP_OCCUPATION", "Student"),
			Organization:     getEnv("AV_SIGNUP_ORGANIZATION", "University"),
			CSRFToken:        getEnv("AV_SIGNUP_CSRF_TOKEN", ""),
			KeyLogFile:       getEnv("AV_SIGNUP_KEY_LOG", filepath.Join(absDataDir, "api_keys.log")),
			BaseIndex:        getEnvAsInt("AV_SIGNUP_BASE_INDEX", 5),
			MaxEmailAttempts: getEnvAsInt("AV_SIGNUP_MAX_ATTEMPTS", 10),
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "harvester"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadHarvestConfig() (HarvestConfig, error) {
	keysVar := getEnv("HARVEST_API_KEYS_VAR", DefaultKeysVar)

	h := HarvestConfig{
		KeysVar:     keysVar,
		APIKeys:     SplitList(os.Getenv(keysVar)),
		Tickers:     SplitList(getEnv("HARVEST_TICKERS", "")),
		TickersFile: getEnv("HARVEST_TICKERS_FILE", ""),
		Exclude:     SplitList(lookupEnv("HARVEST_EXCLUDE", "PLTR")),
	}

	kindNames := SplitList(getEnv("HARVEST_KINDS", ""))
	if len(kindNames) == 0 {
		h.Kinds = append(h.Kinds, domain.AllKinds...)
	}
	for _, name := range kindNames {
		kind, err := domain.ParseResourceKind(name)
		if err != nil {
			return h, fmt.Errorf("HARVEST_KINDS: %w", err)
		}
		h.Kinds = append(h.Kinds, kind)
	}

	var err error
	if h.Start, err = domain.ParsePeriod(getEnv("HARVEST_START", "2016-01")); err != nil {
		return h, fmt.Errorf("HARVEST_START: %w", err)
	}
	if h.End, err = domain.ParsePeriod(getEnv("HARVEST_END", "2024-12")); err != nil {
		return h, fmt.Errorf("HARVEST_END: %w", err)
	}

	if len(h.Tickers) == 0 && h.TickersFile != "" {
		if h.Tickers, err = ReadTickersFile(h.TickersFile); err != nil {
			return h, err
		}
	}

	return h, nil
}

// Validate checks if the configuration is coherent.
// Missing credentials are reported separately by Credentials.
func (c *Config) Validate() error {
	if c.Harvest.End.Ordinal() < c.Harvest.Start.Ordinal() {
		return fmt.Errorf("harvest range ends (%s) before it starts (%s)", c.Harvest.End, c.Harvest.Start)
	}
	if c.Signup.Enabled() && !strings.Contains(c.Signup.EmailTemplate, "{n}") {
		return fmt.Errorf("AV_SIGNUP_EMAIL_TEMPLATE must contain {n}")
	}
	if c.AlphaVantage.IntradayInterval == "" {
		return fmt.Errorf("AV_INTRADAY_INTERVAL must not be empty")
	}
	return nil
}

// Credentials returns the configured API keys, or ErrNoCredentials
func (c *Config) Credentials() ([]domain.Credential, error) {
	if len(c.Harvest.APIKeys) == 0 {
		return nil, fmt.Errorf("%w: set %s to a comma-separated list of keys", ErrNoCredentials, c.Harvest.KeysVar)
	}
	creds := make([]domain.Credential, 0, len(c.Harvest.APIKeys))
	for _, k := range c.Harvest.APIKeys {
		creds = append(creds, domain.Credential(k))
	}
	return creds, nil
}

// CheckpointPath returns the checkpoint file for a resource kind
func (c *Config) CheckpointPath(kind domain.ResourceKind) string {
	return filepath.Join(c.CheckpointDir, string(kind)+"_checkpoint.txt")
}

// SplitList splits a comma-separated value, trimming blanks and quotes
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ReadTickersFile reads a comma-separated ticker file (quotes and newlines allowed)
func ReadTickersFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tickers file: %w", err)
	}
	normalized := strings.NewReplacer("\r", ",", "\n", ",").Replace(string(content))
	return SplitList(normalized), nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is getEnv for keys where an explicitly empty value is meaningful
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
