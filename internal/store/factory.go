package store

import "fmt"

// New creates a Store based on the configured storage driver.
func New(driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(dsn)
	case "sqlite", "":
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", driver)
	}
}
