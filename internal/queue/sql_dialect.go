package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

const (
	sqliteBusyCode             = 5
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
	postgresUniqueViolation    = "23505"
	mysqlDuplicateEntry        = 1062
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name        string
	driver      string
	numbered    bool
	tableExists string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:        "sqlite",
		driver:      "sqlite",
		tableExists: "SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?",
	},
	"postgres": {
		name:        "postgres",
		driver:      "postgres",
		numbered:    true,
		tableExists: "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
	},
	"mysql": {
		name:        "mysql",
		driver:      "mysql",
		tableExists: "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
	},
}

func lookupDialect(backend string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(backend))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported sql backend %q", backend)
	}
	return d, nil
}

// rebind rewrites ? placeholders to $n for drivers that need numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
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

// prepareDSN validates and normalizes the connection string for the driver.
func (d dialect) prepareDSN(dsn string) (string, error) {
	switch d.name {
	case "postgres":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			converted, err := pq.ParseURL(dsn)
			if err != nil {
				return "", fmt.Errorf("parse postgres dsn: %w", err)
			}
			return converted, nil
		}
		return dsn, nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Timestamps are stored as text; keep the driver from converting them.
		cfg.ParseTime = false
		return cfg.FormatDSN(), nil
	default:
		return dsn, nil
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == postgresUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		code := coder.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
