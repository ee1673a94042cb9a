package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "CardGift"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	defaultCacheTTL      = 5 * time.Minute
	defaultListCacheTTL  = 2 * time.Minute
	defaultSweepInterval = 5 * time.Minute

	defaultRateLimitMax    = 60
	defaultRateLimitWindow = time.Minute

	defaultStoreMaxBytes = 5 * 1024 * 1024
	defaultMediaMaxBytes = 10 * 1024 * 1024

	defaultFreeLimit      = 5
	defaultUnlimitedQuota = 999999

	defaultLedgerTimeout   = 15 * time.Second
	defaultMirrorQueueSize = 128
	defaultChainID         = 204
	defaultChainName       = "opBNB Mainnet"
	defaultCurrencySymbol  = "BNB"
	defaultRPCURL          = "https://opbnb-mainnet-rpc.bnbchain.org"
	defaultExplorerURL     = "https://opbnb.bscscan.com"

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
)

// Backend selectors.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendNone     = "none"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	PublicBaseURL  string
	CORSOrigins    string
	SentryDSN      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	DatabaseURL string
	RedisURL    string
	MongoURL    string
	MongoDB     string

	StoreBackend     string
	CacheBackend     string
	RateLimitBackend string
	LedgerBackend    string

	Cache     CacheConfig
	RateLimit RateLimitConfig
	Limits    LimitsConfig
	Quota     QuotaConfig
	Ledger    LedgerConfig
}

// CacheConfig controls TTLs of the read cache.
type CacheConfig struct {
	DefaultTTL    time.Duration
	ListTTL       time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig is the fixed-window limiter policy.
type RateLimitConfig struct {
	MaxPerWindow int
	Window       time.Duration
}

// LimitsConfig bounds persisted and uploaded payload sizes.
type LimitsConfig struct {
	StoreMaxBytes int
	MediaMaxBytes int64
}

// QuotaConfig drives card quota evaluation.
type QuotaConfig struct {
	FreeLimit           int
	ActivatedLimit      int
	MiniAdminLimit      int
	SuperAdminLimit     int
	UnlimitedLimit      int
	HonorPaidTiers      bool
	PrivilegedAddresses []string
}

// LedgerConfig describes the wallet network, payment amounts and gas budgets.
type LedgerConfig struct {
	ChainID         int64
	ChainName       string
	CurrencySymbol  string
	RPCURL          string
	ExplorerURL     string
	ContractAddress string
	WalletAddress   string

	ActivationPrice string
	MiniAdminPrice  string
	SuperAdminPrice string

	RegisterGas   uint64
	ActivationGas uint64
	MiniAdminGas  uint64
	SuperAdminGas uint64
	CreateCardGas uint64
	DeleteCardGas uint64

	CallTimeout     time.Duration
	MirrorQueueSize int
}

// Default returns the configuration used when no environment overrides are present.
func Default() Config {
	return Config{
		AppName:          defaultAppName,
		AppEnv:           defaultAppEnv,
		Port:             defaultPort,
		LogLevel:         defaultLogLevel,
		CORSOrigins:      "*",
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		MongoDB:          "cardgift",
		StoreBackend:     BackendMemory,
		CacheBackend:     BackendMemory,
		RateLimitBackend: BackendMemory,
		LedgerBackend:    BackendMemory,
		Cache: CacheConfig{
			DefaultTTL:    defaultCacheTTL,
			ListTTL:       defaultListCacheTTL,
			SweepInterval: defaultSweepInterval,
		},
		RateLimit: RateLimitConfig{
			MaxPerWindow: defaultRateLimitMax,
			Window:       defaultRateLimitWindow,
		},
		Limits: LimitsConfig{
			StoreMaxBytes: defaultStoreMaxBytes,
			MediaMaxBytes: defaultMediaMaxBytes,
		},
		Quota: QuotaConfig{
			FreeLimit:       defaultFreeLimit,
			ActivatedLimit:  20,
			MiniAdminLimit:  50,
			SuperAdminLimit: 100,
			UnlimitedLimit:  defaultUnlimitedQuota,
		},
		Ledger: LedgerConfig{
			ChainID:         defaultChainID,
			ChainName:       defaultChainName,
			CurrencySymbol:  defaultCurrencySymbol,
			RPCURL:          defaultRPCURL,
			ExplorerURL:     defaultExplorerURL,
			ActivationPrice: "2500000000000000",
			MiniAdminPrice:  "50000000000000000",
			SuperAdminPrice: "250000000000000000",
			RegisterGas:     300000,
			ActivationGas:   200000,
			MiniAdminGas:    250000,
			SuperAdminGas:   300000,
			CreateCardGas:   200000,
			DeleteCardGas:   150000,
			CallTimeout:     defaultLedgerTimeout,
			MirrorQueueSize: defaultMirrorQueueSize,
		},
	}
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.AppName = getEnv("APP_NAME", cfg.AppName)
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	cfg.CORSOrigins = getEnv("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.MongoURL = os.Getenv("MONGO_URL")
	cfg.MongoDB = getEnv("MONGO_DB", cfg.MongoDB)
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", cfg.StoreBackend))
	cfg.CacheBackend = strings.ToLower(getEnv("CACHE_BACKEND", cfg.CacheBackend))
	cfg.RateLimitBackend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", cfg.RateLimitBackend))
	cfg.LedgerBackend = strings.ToLower(getEnv("LEDGER_BACKEND", cfg.LedgerBackend))

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CACHE_TTL", &cfg.Cache.DefaultTTL},
		{"CACHE_LIST_TTL", &cfg.Cache.ListTTL},
		{"CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval},
		{"RATE_LIMIT_WINDOW", &cfg.RateLimit.Window},
		{"LEDGER_CALL_TIMEOUT", &cfg.Ledger.CallTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_MAX", &cfg.RateLimit.MaxPerWindow},
		{"STORE_MAX_BYTES", &cfg.Limits.StoreMaxBytes},
		{"QUOTA_FREE", &cfg.Quota.FreeLimit},
		{"QUOTA_ACTIVATED", &cfg.Quota.ActivatedLimit},
		{"QUOTA_MINI_ADMIN", &cfg.Quota.MiniAdminLimit},
		{"QUOTA_SUPER_ADMIN", &cfg.Quota.SuperAdminLimit},
		{"MIRROR_QUEUE_SIZE", &cfg.Ledger.MirrorQueueSize},
	}
	for _, i := range ints {
		if *i.dst, err = getInt(i.key, *i.dst); err != nil {
			return Config{}, err
		}
	}

	media, err := getInt("MEDIA_MAX_BYTES", int(cfg.Limits.MediaMaxBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.Limits.MediaMaxBytes = int64(media)

	if v := os.Getenv("QUOTA_HONOR_PAID_TIERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTA_HONOR_PAID_TIERS: %w", err)
		}
		cfg.Quota.HonorPaidTiers = b
	}
	cfg.Quota.PrivilegedAddresses = parseAddresses(os.Getenv("PRIVILEGED_ADDRESSES"))

	if v := os.Getenv("LEDGER_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LEDGER_CHAIN_ID: %w", err)
		}
		cfg.Ledger.ChainID = id
	}
	cfg.Ledger.ChainName = getEnv("LEDGER_CHAIN_NAME", cfg.Ledger.ChainName)
	cfg.Ledger.RPCURL = getEnv("LEDGER_RPC_URL", cfg.Ledger.RPCURL)
	cfg.Ledger.ExplorerURL = getEnv("LEDGER_EXPLORER_URL", cfg.Ledger.ExplorerURL)
	cfg.Ledger.ContractAddress = os.Getenv("LEDGER_CONTRACT_ADDRESS")
	cfg.Ledger.WalletAddress = strings.ToLower(os.Getenv("LEDGER_WALLET_ADDRESS"))
	cfg.Ledger.ActivationPrice = getEnv("PRICE_ACTIVATION_WEI", cfg.Ledger.ActivationPrice)
	cfg.Ledger.MiniAdminPrice = getEnv("PRICE_MINI_ADMIN_WEI", cfg.Ledger.MiniAdminPrice)
	cfg.Ledger.SuperAdminPrice = getEnv("PRICE_SUPER_ADMIN_WEI", cfg.Ledger.SuperAdminPrice)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be wired.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres store"))
		}
	case BackendMongo:
		if c.MongoURL == "" {
			errs = append(errs, errors.New("MONGO_URL must be set for the mongo store"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	for name, backend := range map[string]string{"CACHE_BACKEND": c.CacheBackend, "RATE_LIMIT_BACKEND": c.RateLimitBackend} {
		switch backend {
		case BackendMemory:
		case BackendRedis:
			if c.RedisURL == "" {
				errs = append(errs, fmt.Errorf("REDIS_URL must be set when %s=redis", name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", name, backend))
		}
	}

	switch c.LedgerBackend {
	case BackendMemory, BackendNone:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	if c.Cache.DefaultTTL <= 0 || c.Cache.ListTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.RateLimit.MaxPerWindow <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if c.Limits.StoreMaxBytes <= 0 || c.Limits.MediaMaxBytes <= 0 {
		errs = append(errs, errors.New("size limits must be positive"))
	}
	if c.Quota.FreeLimit < 0 {
		errs = append(errs, errors.New("QUOTA_FREE must not be negative"))
	}
	if c.Ledger.MirrorQueueSize <= 0 {
		errs = append(errs, errors.New("MIRROR_QUEUE_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether internal error details may be exposed.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}

func parseAddresses(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
