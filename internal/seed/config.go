package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Customers      int
	Purchases      int
	Seed           int64
	CreateDatabase bool
}

func DefaultConfig() Config {
	return Config{
		Customers:      100,
		Purchases:      1000,
		Seed:           time.Now().UTC().UnixNano(),
		CreateDatabase: true,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyInt(lookup, "SQLCHAT_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLCHAT_SEED_PURCHASES", &cfg.Purchases); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "SQLCHAT_SEED_VALUE", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLCHAT_SEED_CREATE_DATABASE", &cfg.CreateDatabase); err != nil {
		return Config{}, err
	}

	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("SQLCHAT_SEED_CUSTOMERS must be > 0")
	}
	if cfg.Purchases < 0 {
		return Config{}, fmt.Errorf("SQLCHAT_SEED_PURCHASES must be >= 0")
	}
	return cfg, nil
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
