package storage

import (
	"errors"
	"strings"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Open initializes the configured store and applies its schema.
func Open(cfg Config, log logx.Logger) (reminder.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite, "sqlite3":
		st, err := openSQLite(cfg, log.With(logx.String("driver", DriverSQLite)))
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverPostgres, "postgresql", "pg":
		st, err := openPostgres(cfg, log.With(logx.String("driver", DriverPostgres)))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
