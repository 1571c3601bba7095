package trendengine

import (
	"log"
	"os"
	"strconv"
	"strings"

	"swing-systemv1/internal/swing"
)

// Config holds all env-parsed configuration for the trend engine service.
type Config struct {
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	ConsumerGroup string
	ConsumerName  string
	Symbols       []string
	TrackerConfig swing.Config

	SnapshotIntervalS int
	SnapshotKey       string
	HTTPAddr          string
	PELIntervalS      int
	PELMinIdleMs      int64

	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")
	sqlitePath := getEnv("SQLITE_PATH", "data/bars.db")
	consumerGroup := getEnv("CONSUMER_GROUP", "trendengine")
	consumerName := getEnv("CONSUMER_NAME", "worker-1")
	symbolsStr := getEnv("SYMBOLS", "")
	snapshotIntervalStr := getEnv("SNAPSHOT_INTERVAL_SEC", "30")
	snapshotKey := getEnv("SNAPSHOT_KEY", "trend:snapshot:engine")
	httpAddr := getEnv("TRENDENGINE_HTTP_ADDR", ":9095")
	pelIntervalStr := getEnv("PEL_RECLAIM_INTERVAL_SEC", "30")
	pelMinIdleStr := getEnv("PEL_MIN_IDLE_MS", "60000")

	pelInterval, _ := strconv.Atoi(pelIntervalStr)
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(pelMinIdleStr, 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}

	snapshotInterval, _ := strconv.Atoi(snapshotIntervalStr)
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}

	return Config{
		RedisAddr:         redisAddr,
		RedisPassword:     redisPassword,
		SQLitePath:        sqlitePath,
		ConsumerGroup:     consumerGroup,
		ConsumerName:      consumerName,
		Symbols:           parseSymbols(symbolsStr),
		TrackerConfig:     buildTrackerConfig(),
		SnapshotIntervalS: snapshotInterval,
		SnapshotKey:       snapshotKey,
		HTTPAddr:          httpAddr,
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:        getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

// buildTrackerConfig parses the tracker thresholds from the environment.
// RETRACE_THRESHOLD_PCT: percent, "0" disables the filter, unset keeps the
// default. SIDEWAYS_THRESHOLD: bar count, unset keeps the default.
func buildTrackerConfig() swing.Config {
	var cfg swing.Config

	if s := os.Getenv("RETRACE_THRESHOLD_PCT"); s != "" {
		pct, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || pct < 0 {
			log.Printf("[trendengine] ignoring invalid RETRACE_THRESHOLD_PCT=%q", s)
		} else {
			cfg.RetraceThresholdPct = &pct
		}
	}

	if s := os.Getenv("SIDEWAYS_THRESHOLD"); s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n <= 0 {
			log.Printf("[trendengine] ignoring invalid SIDEWAYS_THRESHOLD=%q", s)
		} else {
			cfg.SidewaysThreshold = n
		}
	}

	cfg.Debug = getEnv("TREND_DEBUG", "") == "1"
	return cfg
}

func parseSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var symbols []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			symbols = append(symbols, part)
		}
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
