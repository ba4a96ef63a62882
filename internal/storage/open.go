package storage

import (
	"fmt"
	"strings"

	logx "schedd/pkg/logx"
)

// ClaimingStore is satisfied by every backend in this package.
type ClaimingStore interface {
	Store
	DayClaimer
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (ClaimingStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		st, err := openFile(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
