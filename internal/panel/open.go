package panel

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// Config selects the panel database.
//
// Driver values:
//   - "sqlite": DSN is the database file path
//   - "postgres": DSN is a connection URL
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the Marzban panel database. Access is read-only by
// convention: the service only ever issues SELECTs.
func Open(cfg Config, log logx.Logger) (*Service, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("panel: dsn is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite", cfg.DSN)
		if err == nil {
			// The panel owns this file; keep our connection footprint minimal.
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case "postgres", "postgresql":
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("panel: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return &Service{db: db, driver: driver, log: log}, nil
}

// rebind rewrites "?" placeholders to "$N" for postgres.
// Queries in this package are written with "?" (sqlite style).
func (s *Service) rebind(query string) string {
	if s.driver != "postgres" && s.driver != "postgresql" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
