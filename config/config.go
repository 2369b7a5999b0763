package config

import (
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata" // CHART_TIMEZONE must resolve in minimal containers

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is composed of smaller structs that represent different concerns of the system,
// such as the HTTP server, the exchange venue, background polling and the optional
// Postgres tick cache.
//
// Example ENV:
//
//	SERVER_PORT=8080
//	VENUE_BASE_URL=http://localhost:8000
//	VENUE_USER_ID=minsu
//	CACHE_ENABLED=true
//	POSTGRES_HOST=localhost
//	POSTGRES_DB=candledesk
type Config struct {
	Server    ServerConfig    // HTTP server configuration
	Postgres  PostgresConfig  // PostgreSQL connection settings
	Venue     VenueConfig     // Exchange client settings
	Poll      PollConfig      // Background sync and recording
	Chart     ChartConfig     // Candle aggregation
	Account   AccountConfig   // Local account seed
	RateLimit RateLimitConfig // Per-IP HTTP rate limiting
}

// ServerConfig holds HTTP server settings such as the port to listen on.
type ServerConfig struct {
	Port string // The TCP port the HTTP server will listen on (e.g., "8080")
}

// PostgresConfig defines connection details for PostgreSQL.
//
// Fields:
//   - Enabled: whether the tick/instrument cache is used at all (CACHE_ENABLED).
//   - Host: hostname of the database server.
//   - Port: port number of the database server (default 5432).
//   - User: username for authentication.
//   - Password: password for authentication.
//   - DBName: target database name.
//   - SSLMode: SSL mode (e.g., "disable", "require").
//   - URL: computed DSN used by database/sql to connect.
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string
}

// VenueConfig configures the HTTP client of the exchange simulator.
type VenueConfig struct {
	BaseURL     string
	UserID      string // display name; the agent id is "USER_" + UserID
	Timeout     time.Duration
	RPS         float64 // 0 disables client side throttling
	Burst       int
	Retries     uint64
	TradesLimit int
}

// PollConfig drives the background tasks.
type PollConfig struct {
	SyncInterval    time.Duration
	RecordInterval  time.Duration
	RecordTickers   []string // empty records every listed instrument
	RecordRetention time.Duration
}

// ChartConfig tunes candle aggregation.
type ChartConfig struct {
	MinCandles int
	Volatility float64
	Timezone   string
	Location   *time.Location
}

// AccountConfig seeds the in-memory account.
type AccountConfig struct {
	StartingCash decimal.Decimal
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
//
// Fatal exit:
//   - If required variables are missing or malformed, validateConfig() terminates
//     the app with a descriptive log message.
func LoadConfig() {
	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "candledesk")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")

	viper.SetDefault("VENUE_BASE_URL", "http://localhost:8000")
	viper.SetDefault("VENUE_USER_ID", "guest")
	viper.SetDefault("VENUE_TIMEOUT", "5s")
	viper.SetDefault("VENUE_RPS", 20)
	viper.SetDefault("VENUE_BURST", 5)
	viper.SetDefault("VENUE_RETRIES", 2)
	viper.SetDefault("VENUE_TRADES_LIMIT", 3000)

	viper.SetDefault("POLL_SYNC_INTERVAL", "3s")
	viper.SetDefault("POLL_RECORD_INTERVAL", "10s")
	viper.SetDefault("RECORD_TICKERS", "")
	viper.SetDefault("RECORD_RETENTION", "8760h")

	viper.SetDefault("CHART_MIN_CANDLES", 40)
	viper.SetDefault("CHART_VOLATILITY", 0.015)
	viper.SetDefault("CHART_TIMEZONE", "Asia/Seoul")

	viper.SetDefault("STARTING_CASH", "5000000")

	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 60)

	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	viper.AutomaticEnv()

	AppConfig = Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Postgres: PostgresConfig{
			Enabled:  viper.GetBool("CACHE_ENABLED"),
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
		Venue: VenueConfig{
			BaseURL:     strings.TrimRight(viper.GetString("VENUE_BASE_URL"), "/"),
			UserID:      strings.TrimSpace(viper.GetString("VENUE_USER_ID")),
			Timeout:     viper.GetDuration("VENUE_TIMEOUT"),
			RPS:         viper.GetFloat64("VENUE_RPS"),
			Burst:       viper.GetInt("VENUE_BURST"),
			Retries:     viper.GetUint64("VENUE_RETRIES"),
			TradesLimit: viper.GetInt("VENUE_TRADES_LIMIT"),
		},
		Poll: PollConfig{
			SyncInterval:    viper.GetDuration("POLL_SYNC_INTERVAL"),
			RecordInterval:  viper.GetDuration("POLL_RECORD_INTERVAL"),
			RecordTickers:   splitList(viper.GetString("RECORD_TICKERS")),
			RecordRetention: viper.GetDuration("RECORD_RETENTION"),
		},
		Chart: ChartConfig{
			MinCandles: viper.GetInt("CHART_MIN_CANDLES"),
			Volatility: viper.GetFloat64("CHART_VOLATILITY"),
			Timezone:   viper.GetString("CHART_TIMEZONE"),
		},
		RateLimit: RateLimitConfig{
			RPS:   viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst: viper.GetInt("RATE_LIMIT_BURST"),
		},
	}

	AppConfig.Postgres.URL = BuildDSN(AppConfig.Postgres)

	validateConfig(viper.GetString("STARTING_CASH"))
}

// BuildDSN renders the database/sql connection string for p.
func BuildDSN(p PostgresConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.DBName,
		p.SSLMode,
	)
}

// splitList parses "SSE, hdx,," into ["SSE", "HDX"].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateConfig ensures required variables are present and well formed,
// resolving derived values (chart location, starting cash) on the way.
// It terminates the application with log.Fatalf when anything is wrong.
func validateConfig(startingCash string) {
	var missing []string

	if AppConfig.Server.Port == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if AppConfig.Venue.BaseURL == "" {
		missing = append(missing, "VENUE_BASE_URL")
	}
	if AppConfig.Venue.UserID == "" {
		missing = append(missing, "VENUE_USER_ID")
	}
	if AppConfig.Poll.SyncInterval <= 0 {
		missing = append(missing, "POLL_SYNC_INTERVAL")
	}
	if AppConfig.Postgres.Enabled {
		if AppConfig.Postgres.Host == "" {
			missing = append(missing, "POSTGRES_HOST")
		}
		if AppConfig.Postgres.Port == 0 {
			missing = append(missing, "POSTGRES_PORT")
		}
		if AppConfig.Postgres.User == "" {
			missing = append(missing, "POSTGRES_USER")
		}
		if AppConfig.Postgres.Password == "" {
			missing = append(missing, "POSTGRES_PASSWORD")
		}
		if AppConfig.Postgres.DBName == "" {
			missing = append(missing, "POSTGRES_DB")
		}
	}

	loc, err := time.LoadLocation(AppConfig.Chart.Timezone)
	if err != nil || AppConfig.Chart.Timezone == "" {
		missing = append(missing, "CHART_TIMEZONE")
	} else {
		AppConfig.Chart.Location = loc
	}

	cash, err := decimal.NewFromString(strings.TrimSpace(startingCash))
	if err != nil || cash.IsNegative() {
		missing = append(missing, "STARTING_CASH")
	} else {
		AppConfig.Account.StartingCash = cash
	}

	if len(missing) > 0 {
		log.Fatalf("missing or invalid environment variables: %v\n", missing)
	}
}
