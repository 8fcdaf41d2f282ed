package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/querypilot/internal/schema"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	DSN              string
	Dialect          schema.Dialect
	Users            int
	MaxOrdersPerUser int
	BatchSize        int
	Reset            bool
	Seed             int64
}

func DefaultConfig() Config {
	return Config{
		DSN:              "querypilot-demo.duckdb",
		Dialect:          schema.DialectDuckDB,
		Users:            200,
		MaxOrdersPerUser: 8,
		BatchSize:        100,
		Reset:            true,
		Seed:             time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "QUERYPILOT_DEMO_DSN", &cfg.DSN); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("QUERYPILOT_DEMO_DIALECT"); ok {
		dialect, err := schema.ParseDialect(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUERYPILOT_DEMO_DIALECT: %w", err)
		}
		cfg.Dialect = dialect
	}
	if err := applyInt(lookup, "QUERYPILOT_DEMO_USERS", &cfg.Users); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_DEMO_MAX_ORDERS_PER_USER", &cfg.MaxOrdersPerUser); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYPILOT_DEMO_BATCH_SIZE", &cfg.BatchSize); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_DEMO_RESET", &cfg.Reset); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "QUERYPILOT_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if cfg.Dialect != schema.DialectDuckDB && strings.TrimSpace(cfg.DSN) == "" {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_DSN is required for %s", cfg.Dialect)
	}
	if cfg.Users <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_USERS must be > 0")
	}
	if cfg.MaxOrdersPerUser <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_MAX_ORDERS_PER_USER must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_BATCH_SIZE must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
