package db

import "embed"

// MigrationFS embeds the SQL migrations of every supported driver, one directory per driver.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS

// MigrationDir returns the directory inside MigrationFS holding driver's migrations.
func MigrationDir(driver Driver) string {
	return "migrations/" + string(driver)
}
