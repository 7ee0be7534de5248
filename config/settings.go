package config

import (
	"os"
	"strings"
	"time"
)

// BasicPath is the root for audit copies of device files, generated sheet
// documents and exports when the local blob store is used.
//
// Set via env:
// - BASIC_PATH=/srv/stocktake/files
func BasicPath() string {
	v := strings.TrimSpace(os.Getenv("BASIC_PATH"))
	if v == "" {
		return "./files"
	}
	return v
}

// SweepInterval is how often the import sweeper runs.
func SweepInterval() time.Duration {
	return time.Duration(intFromEnv("SWEEP_INTERVAL_SECONDS", 60)) * time.Second
}

// SweepGrace is how long an inactive sheet or an empty import is left alone
// before the sweeper disables its imports.
func SweepGrace() time.Duration {
	return time.Duration(intFromEnv("SWEEP_GRACE_MINUTES", 15)) * time.Minute
}

// CatalogCodeSyncInterval is the cadence of the product code index rebuild.
func CatalogCodeSyncInterval() time.Duration {
	return time.Duration(intFromEnv("CATALOG_CODE_SYNC_MINUTES", 60)) * time.Minute
}

// CatalogTable is the POS catalog view the products are read from.
func CatalogTable() string {
	v := strings.TrimSpace(os.Getenv("CATALOG_TABLE"))
	if v == "" {
		return "catalog_products"
	}
	return v
}

// CatalogIsLocal reports whether the catalog table is owned by this service
// (dev/test) and should be auto-migrated with the rest of the schema.
func CatalogIsLocal() bool {
	return envBool("CATALOG_LOCAL_TABLE")
}

func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// DefaultPrinter is where finalized and dynamic sheet documents are sent.
// Empty disables printing.
func DefaultPrinter() string {
	return strings.TrimSpace(os.Getenv("DEFAULT_PRINTER"))
}

func PrintCommand() string {
	v := strings.TrimSpace(os.Getenv("PRINT_COMMAND"))
	if v == "" {
		return "lp"
	}
	return v
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
