// Package storage persists file records in a relational database.
// PostgreSQL, MySQL and SQLite share one codepath: queries are written
// with ? placeholders and rebound per driver, structured fields ride
// in JSON text columns.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

const op = "storage"

// Open connects to the configured database and verifies the
// connection. SQLite runs on a single connection in WAL mode so
// concurrent pipeline writers serialize instead of failing with a
// locked database. MySQL DSNs should set parseTime=true so timestamps
// scan into time.Time.
func Open(cfg *config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, op, err)
	}

	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fault.Wrapf(fault.KindStorage, op, err, "database unreachable")
	}

	if cfg.Driver == "sqlite3" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=10000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				slog.Warn("sqlite pragma failed", "pragma", pragma, "error", err)
			}
		}
	}

	return db, nil
}

// rebind rewrites ? placeholders to the driver's native form. Only
// postgres needs positional $N markers.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
