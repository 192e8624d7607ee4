package seed

import "testing"

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Customers != 100 || cfg.Purchases != 1000 {
		t.Fatalf("counts = %d/%d", cfg.Customers, cfg.Purchases)
	}
	if !cfg.CreateDatabase {
		t.Fatal("CreateDatabase should default to true")
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"SQLCHAT_SEED_CUSTOMERS":       "5",
		"SQLCHAT_SEED_PURCHASES":       "12",
		"SQLCHAT_SEED_VALUE":           "42",
		"SQLCHAT_SEED_CREATE_DATABASE": "false",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Customers != 5 || cfg.Purchases != 12 || cfg.Seed != 42 || cfg.CreateDatabase {
		t.Fatalf("cfg = %#v", cfg)
	}
}

func TestLoadConfigFromEnvRejectsInvalidValues(t *testing.T) {
	for _, env := range []map[string]string{
		{"SQLCHAT_SEED_CUSTOMERS": "0"},
		{"SQLCHAT_SEED_CUSTOMERS": "many"},
		{"SQLCHAT_SEED_PURCHASES": "-1"},
		{"SQLCHAT_SEED_VALUE": "x"},
		{"SQLCHAT_SEED_CREATE_DATABASE": "maybe"},
	} {
		if _, err := LoadConfigFromEnv(mapLookup(env)); err == nil {
			t.Fatalf("LoadConfigFromEnv() expected error for %#v", env)
		}
	}
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("LoadConfigFromEnv(nil) expected error")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
