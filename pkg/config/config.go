package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/crypto"
)

// ConfigurationError reports settings the runtime cannot start without.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: missing %s", strings.Join(e.Missing, ", "))
}

// Config holds environment-driven settings for the trading runtime.
type Config struct {
	Port      string
	JWTSecret string
	DBPath    string

	// Venue
	MockMode           bool
	BrokerMode         string // "paper" or "live"
	AlpacaBaseURL      string
	AlpacaAPIKey       string
	AlpacaAPISecret    string
	AlpacaTradeStream  string
	AlpacaDataStream   string
	UseMockFeed        bool
	VenueMaxAttempts   int
	VenueRatePerSec    float64
	VenueRateBurst     int
	VenueTimeout       time.Duration
	DryRunSlippageBps  float64
	DryRunGwLatencyMin int
	DryRunGwLatencyMax int

	// Kill switch
	KillSwitchPath string
	TradeHalt      bool

	// Risk
	RiskProfile     string
	RiskPresetsFile string

	// Router
	ClientIDPrefix string
	DefaultTPPct   float64
	DefaultSLPct   float64

	// Reconciler
	ReconcileInterval      time.Duration
	ReconcileScope         string
	ReconcileStatePath     string
	ReconcileSyncPositions bool
	AuditLogPath           string

	// Breakers (0 disables a limit)
	MaxDataStaleSec  float64
	MaxRejectsPerMin float64
	MaxLatencyP95Ms  float64
	BreakerInterval  time.Duration

	// Decision loop
	TradeProfile     string
	TradeUniverse    []string
	TradeInterval    time.Duration
	TradeTopN        int
	TradeMinConf     float64
	TradeMinEV       float64
	TradeMaxQty      int
	TradeAutoRestart bool
	TradeMaxRestarts int

	// Collaborators
	SignalsFile       string
	SignalServiceAddr string
	PredictorAddr     string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	brokerMode := strings.ToLower(getEnv("BROKER_MODE", "paper"))
	baseURL := getEnv("ALPACA_BASE_URL", "")
	if baseURL == "" {
		baseURL = "https://paper-api.alpaca.markets"
		if brokerMode == "live" {
			baseURL = "https://api.alpaca.markets"
		}
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
		DBPath:    getEnv("DB_PATH", "./data/gigatrader.db"),

		MockMode:           getEnvBool("MOCK_MODE", false),
		BrokerMode:         brokerMode,
		AlpacaBaseURL:      strings.TrimRight(baseURL, "/"),
		AlpacaAPIKey:       firstEnv("ALPACA_API_KEY", "ALPACA_KEY_ID", "APCA_API_KEY_ID"),
		AlpacaAPISecret:    firstEnv("ALPACA_API_SECRET", "ALPACA_SECRET_KEY", "APCA_API_SECRET_KEY"),
		AlpacaTradeStream:  getEnv("ALPACA_TRADE_STREAM_URL", "wss://paper-api.alpaca.markets/stream"),
		AlpacaDataStream:   getEnv("ALPACA_DATA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		UseMockFeed:        getEnvBool("USE_MOCK_FEED", true),
		VenueMaxAttempts:   getEnvInt("VENUE_MAX_ATTEMPTS", 3),
		VenueRatePerSec:    getEnvFloat("VENUE_RATE_LIMIT_PER_SEC", 3),
		VenueRateBurst:     getEnvInt("VENUE_RATE_LIMIT_BURST", 5),
		VenueTimeout:       getEnvSeconds("VENUE_TIMEOUT_SEC", 10),
		DryRunSlippageBps:  getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DryRunGwLatencyMin: getEnvInt("DRY_RUN_GATEWAY_LATENCY_MIN_MS", 0),
		DryRunGwLatencyMax: getEnvInt("DRY_RUN_GATEWAY_LATENCY_MAX_MS", 0),

		KillSwitchPath: getEnv("KILL_SWITCH_PATH", ".kill_switch"),
		TradeHalt:      getEnvBool("TRADE_HALT", false),

		RiskProfile:     strings.ToLower(getEnv("RISK_PROFILE", "balanced")),
		RiskPresetsFile: getEnv("RISK_PRESETS_FILE", ""),

		ClientIDPrefix: getEnv("ORDER_CLIENT_ID_PREFIX", "gt"),
		DefaultTPPct:   getEnvFloat("DEFAULT_TP_PCT", 1.0),
		DefaultSLPct:   getEnvFloat("DEFAULT_SL_PCT", 0.5),

		ReconcileInterval:      getEnvSeconds("RECONCILE_INTERVAL_SEC", 30),
		ReconcileScope:         strings.ToLower(getEnv("RECONCILE_SCOPE", "all")),
		ReconcileStatePath:     getEnv("RECONCILE_STATE_PATH", "./data/reconcile_state.json"),
		ReconcileSyncPositions: getEnvBool("RECONCILE_SYNC_POSITIONS", true),
		AuditLogPath:           getEnv("AUDIT_LOG_PATH", "./data/audit.log"),

		MaxDataStaleSec:  positive(getEnvFloat("MAX_DATA_STALE_SEC", 0)),
		MaxRejectsPerMin: positive(getEnvFloat("MAX_REJECTS_PER_MIN", 0)),
		MaxLatencyP95Ms:  positive(getEnvFloat("MAX_LATENCY_P95_MS", 0)),
		BreakerInterval:  getEnvSeconds("BREAKERS_CHECK_INTERVAL_SEC", 10),

		TradeProfile:     strings.ToLower(getEnv("TRADE_PROFILE", "balanced")),
		TradeUniverse:    splitAndTrim(strings.ToUpper(getEnv("TRADE_UNIVERSE", "AAPL,MSFT,NVDA,SPY"))),
		TradeInterval:    getEnvSeconds("TRADE_INTERVAL_SEC", 60),
		TradeTopN:        getEnvInt("TRADE_TOP_N", 3),
		TradeMinConf:     getEnvFloat("TRADE_MIN_CONF", 0.55),
		TradeMinEV:       getEnvFloat("TRADE_MIN_EV", 0.0),
		TradeMaxQty:      getEnvInt("TRADE_MAX_QTY", 0),
		TradeAutoRestart: getEnvBool("TRADE_AUTO_RESTART", true),
		TradeMaxRestarts: getEnvInt("TRADE_MAX_RESTARTS", 5),

		SignalsFile:       getEnv("SIGNALS_FILE", ""),
		SignalServiceAddr: getEnv("SIGNAL_SERVICE_ADDR", ""),
		PredictorAddr:     getEnv("PREDICTOR_ADDR", ""),
	}

	// Credentials may be sealed with MASTER_ENCRYPTION_KEY.
	u := &crypto.Unsealer{Lookup: Getenv}
	for name, field := range map[string]*string{
		"ALPACA_API_KEY":    &cfg.AlpacaAPIKey,
		"ALPACA_API_SECRET": &cfg.AlpacaAPISecret,
		"JWT_SECRET":        &cfg.JWTSecret,
	} {
		v, err := u.Value(name, *field)
		if err != nil {
			return nil, err
		}
		*field = v
	}
	return cfg, nil
}

// Validate checks that live venue credentials exist unless the runtime is in mock mode.
func (c *Config) Validate() error {
	if c.MockMode {
		return nil
	}
	var missing []string
	if c.AlpacaAPIKey == "" {
		missing = append(missing, "ALPACA_API_KEY")
	}
	if c.AlpacaAPISecret == "" {
		missing = append(missing, "ALPACA_API_SECRET")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Getenv is the lookup used for preset overrides; tests replace it.
var Getenv = os.Getenv

func getEnv(key, defaultValue string) string {
	if value := Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func getEnvSeconds(key string, def float64) time.Duration {
	secs := getEnvFloat(key, def)
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs * float64(time.Second))
}

func positive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
