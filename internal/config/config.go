package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Database is the Postgres connection setting shared by every command.
// DatabaseURL wins; otherwise it is built from the DB_* parts.
type Database struct {
	DatabaseURL string `env:"DATABASE_URL"`

	DBHost     string `env:"DB_HOST" env-default:"localhost"`
	DBPort     string `env:"DB_PORT" env-default:"5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBSSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
}

type Config struct {
	Database

	Addr    string `env:"RUN_ADDRESS" env-default:":8080"`
	Port    string `env:"PORT"`
	Storage string `env:"STORAGE" env-default:"postgres"`

	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`

	FeePercent     string `env:"WITHDRAWAL_FEE_PERCENT" env-default:"0"`
	RefundOnReject bool   `env:"REFUND_ON_REJECT" env-default:"true"`
	CataloguePath  string `env:"PACKAGE_CATALOGUE" env-default:"packages.yaml"`
	MatureSchedule string `env:"MATURE_SCHEDULE" env-default:"@every 1m"`

	OncePerDay bool   `env:"WITHDRAWAL_ONCE_PER_DAY" env-default:"true"`
	Timezone   string `env:"WITHDRAWAL_TIMEZONE" env-default:"UTC"`
	location   *time.Location

	RateLimit float64 `env:"RATE_LIMIT_RPS" env-default:"20"`
	RateBurst int     `env:"RATE_LIMIT_BURST" env-default:"40"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// Load reads an optional .env file, then the environment, then the
// command-line flags in args, each overriding the one before.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Port != "" {
		cfg.Addr = ":" + strings.TrimSpace(cfg.Port)
	}

	flags := flag.NewFlagSet("alliance-ledger", flag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "a", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Postgres connection URL")
	flags.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend: postgres or memory")
	flags.StringVar(&cfg.CataloguePath, "catalogue", cfg.CataloguePath, "package catalogue YAML file")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnv(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("couldn't read .env: %w", err)
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("couldn't read environment variables: %w", err)
	}
	return nil
}

func (c *Config) resolve() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StoragePostgres:
		if err := c.resolveDatabaseURL(); err != nil {
			return err
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}

	fee, err := decimal.NewFromString(strings.TrimSpace(c.FeePercent))
	if err != nil {
		return fmt.Errorf("WITHDRAWAL_FEE_PERCENT: %w", err)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return errors.New("WITHDRAWAL_FEE_PERCENT must be in [0, 100)")
	}

	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return fmt.Errorf("WITHDRAWAL_TIMEZONE: %w", err)
	}
	c.location = loc
	return nil
}

// Location is the zone that decides when a withdrawal day starts.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Fee is the withdrawal fee percentage. Load has already validated it.
func (c *Config) Fee() decimal.Decimal {
	fee, _ := decimal.NewFromString(strings.TrimSpace(c.FeePercent))
	return fee
}

func (c *Database) resolveDatabaseURL() error {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	if c.DatabaseURL != "" {
		return nil
	}
	if c.DBUser == "" || c.DBPassword == "" || c.DBName == "" {
		return errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
	}
	c.DatabaseURL = fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
	return nil
}

// Admin is the configuration of the admin command.
type Admin struct {
	Database
	MemberID uuid.UUID
}

// LoadAdmin reads the same .env file and environment as Load, then the
// admin flags in args.
func LoadAdmin(args []string) (*Admin, error) {
	cfg := &Admin{}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}

	flags := flag.NewFlagSet("admin", flag.ContinueOnError)
	flags.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Postgres connection URL")
	member := flags.String("member", "", "member id to export")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.resolveDatabaseURL(); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(*member))
	if err != nil {
		return nil, fmt.Errorf("-member: %w", err)
	}
	cfg.MemberID = id
	return cfg, nil
}
