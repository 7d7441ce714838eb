// Package migrations embeds the SQL schema for the forwarding store
// (chats, rules, keyword and replace filters, push channels, RSS
// entries) and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds the embedded schema files, one goose migration per version.
//
//go:embed *.sql
var FS embed.FS

// Run brings the sqlite database up to the latest schema version.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
