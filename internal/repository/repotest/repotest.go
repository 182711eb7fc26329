// Package repotest opens throwaway sqlite databases carrying the bot schema.
package repotest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id INTEGER NOT NULL UNIQUE,
	username TEXT NULL,
	first_name TEXT NULL,
	locale TEXT NOT NULL DEFAULT 'ru',
	plan TEXT NOT NULL DEFAULT 'none',
	videos_left INTEGER NOT NULL DEFAULT 0 CHECK (videos_left >= 0),
	total_paid INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE pricing_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	currency TEXT NOT NULL,
	price_minor_units INTEGER NOT NULL,
	credits INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE payments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id INTEGER NOT NULL,
	plan_code TEXT NOT NULL,
	provider TEXT NOT NULL,
	provider_payment_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount INTEGER NOT NULL,
	credits INTEGER NOT NULL,
	status TEXT NOT NULL,
	raw_payload TEXT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (provider, provider_payment_id)
);
CREATE TABLE generation_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id INTEGER NOT NULL,
	task_id TEXT NULL,
	orientation TEXT NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE callback_dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NULL,
	raw_payload TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Open returns a file-backed sqlite database with the bot schema. It is
// closed when the test ends.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}
