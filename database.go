package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the few places where the supported databases disagree:
// DDL, placeholder syntax and how an inserted id is returned.
type dialect struct {
	name   string
	schema []string
}

var dialects = map[string]dialect{
	"sqlite": {
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS posts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title VARCHAR(255) NOT NULL,
				content TEXT NOT NULL,
				author VARCHAR(100) NOT NULL DEFAULT 'Anonymous',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`,
		},
	},
	"mysql": {
		name: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS posts (
				id INT PRIMARY KEY AUTO_INCREMENT,
				title VARCHAR(255) NOT NULL,
				content TEXT NOT NULL,
				author VARCHAR(100) NOT NULL DEFAULT 'Anonymous',
				created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
				INDEX idx_posts_created_at (created_at)
			)`,
		},
	},
	"postgres": {
		name: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS posts (
				id SERIAL PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				content TEXT NOT NULL,
				author VARCHAR(100) NOT NULL DEFAULT 'Anonymous',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`,
		},
	},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("%q: %w", driver, errUnknownDriver)
	}
	return d, nil
}

// rebind rewrites ? placeholders into $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d dialect) returnsInsertID() bool {
	return d.name == "postgres"
}

func buildDSN(cfg DBConfig) (string, error) {
	switch cfg.Driver {
	case "sqlite":
		return cfg.Path, nil
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(cfg.Host, cfg.Port),
			Path:     "/" + cfg.Name,
			RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
		}
		if cfg.User != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("%q: %w", cfg.Driver, errUnknownDriver)
}

func openDB(ctx context.Context, cfg DBConfig) (*sql.DB, dialect, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, dialect{}, err
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, dialect{}, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, dialect{}, err
	}

	if cfg.Driver == "sqlite" {
		// An in-memory database exists only on the connection that made it.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dialect{}, err
	}

	return db, d, nil
}

func initDB(ctx context.Context, db *sql.DB, d dialect) error {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
