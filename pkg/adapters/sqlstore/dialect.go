package sqlstore

import (
	"fmt"

	// Registered drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect captures the statements that differ between supported databases.
type Dialect struct {
	Name        string
	Driver      string
	createTable string
	upsert      string
	migrations  string
}

// SQLite is the embedded dialect, backed by the pure Go modernc driver.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	createTable: `CREATE TABLE IF NOT EXISTS socket_data (
		socket_id VARCHAR(191) NOT NULL PRIMARY KEY,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	upsert: `INSERT INTO socket_data (socket_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(socket_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	migrations: `CREATE TABLE IF NOT EXISTS schema_migrations (
		name VARCHAR(191) NOT NULL PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`,
}

// MySQL matches the production deployment of the management front end.
var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	createTable: `CREATE TABLE IF NOT EXISTS socket_data (
		socket_id VARCHAR(191) NOT NULL PRIMARY KEY,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci`,
	upsert: `INSERT INTO socket_data (socket_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`,
	migrations: `CREATE TABLE IF NOT EXISTS schema_migrations (
		name VARCHAR(191) NOT NULL PRIMARY KEY,
		applied_at DATETIME NOT NULL
	) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci`,
}

// DialectFor resolves a dialect by name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}
