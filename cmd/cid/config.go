package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/cid/internal/catalog"
)

// configFileCandidates are checked in order inside --config-dir; the first
// one present wins (grounded on viper's own multi-extension SetConfigName
// convention, made explicit here since catalog.Load takes one file path).
var configFileCandidates = []string{"catalog.yaml", "catalog.yml", "catalog.toml", "catalog.json"}

// resolveConfigFile turns spec.md §6's "--config-dir <dir>" into the single
// file path catalog.Load expects.
func resolveConfigFile(dir string) (string, error) {
	for _, name := range configFileCandidates {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no catalog file (%v) found in %s", configFileCandidates, dir)
}

// databaseDSN turns the catalog's typed DatabaseConfig (spec §6) into the
// DSN string internal/runstore/factory.NewFromDSN dispatches on.
func databaseDSN(cfg catalog.DatabaseConfig) string {
	switch cfg.Type {
	case "postgres", "postgresql":
		if cfg.DSN != "" {
			return cfg.DSN
		}
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Username, cfg.Password, host, port, cfg.Database, sslmode)
	case "sqlite", "":
		if cfg.Path != "" {
			return cfg.Path
		}
		return "cid.db"
	default:
		return cfg.Path
	}
}
