package config

// Config holds every knob the core reads from the environment. Fields map
// 1:1 onto the TS_-prefixed variables documented for operators.
type Config struct {
	DatabaseURL   string
	EncryptionKey string // 32-byte url-safe base64, see cryptutil.NewAEAD

	LogLevel string

	CORSOrigins []string // carried through for the (out-of-scope) REST surface

	JWTSecret        string
	JWTAlgorithm     string
	JWTExpireMinutes int

	TelegramBotToken string
	TelegramChatIDs  []string

	// Operational knobs beyond the documented key list, required to run the
	// core standalone; read with the same TS_ prefix (TS_METRICS_PORT,
	// TS_SETTLEMENT_CONFIRM_WAIT_MS).
	MetricsPort          int
	SettlementConfirmWait int // milliseconds
}

// Load reads the process environment (after LoadDotEnv has had a chance to
// populate it) and returns a Config with the documented defaults.
func Load() Config {
	return Config{
		DatabaseURL:   getEnv("DATABASE_URL", "postgres://localhost:5432/statarb?sslmode=disable"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSOrigins: getEnvList("CORS_ORIGINS", nil),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAlgorithm:     getEnv("JWT_ALGORITHM", "HS256"),
		JWTExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 30),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs:  getEnvList("TELEGRAM_CHAT_IDS", nil),

		MetricsPort:           getEnvInt("METRICS_PORT", 8090),
		SettlementConfirmWait: getEnvInt("SETTLEMENT_CONFIRM_WAIT_MS", 1000),
	}
}
