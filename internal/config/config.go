package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver   string // postgres or sqlite
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	SQLitePath string

	ListenAddr     string
	AllowedOrigins []string
	MaxBatchWrites int
	JWTSecret      string
	PolicyFile     string

	// client side
	RemoteURL string
	Token     string
}

// Load reads an optional .env file, then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		DBDriver:       getenv("DB_DRIVER", "postgres"),
		DBHost:         getenv("DB_HOST", "localhost"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         getenv("DB_NAME", "gradebook"),
		DBPort:         getenv("DB_PORT", "5432"),
		SQLitePath:     getenv("SQLITE_PATH", "gradebook.db"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		AllowedOrigins: splitList(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		PolicyFile:     os.Getenv("POLICY_FILE"),
		RemoteURL:      getenv("GRADEBOOK_URL", "http://localhost:8080"),
		Token:          os.Getenv("GRADEBOOK_TOKEN"),
	}

	maxWrites, err := strconv.Atoi(getenv("MAX_BATCH_WRITES", "500"))
	if err != nil || maxWrites <= 0 {
		return Config{}, fmt.Errorf("MAX_BATCH_WRITES must be a positive integer")
	}
	cfg.MaxBatchWrites = maxWrites

	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	return cfg, nil
}

// PostgresDSN builds the connection string the postgres driver expects.
func (c Config) PostgresDSN() string {
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword + " dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=disable"
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
