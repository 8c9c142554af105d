package database

import (
	"errors"

	"github.com/campushq/asset-server/pkg/database/postgres"
	"github.com/campushq/asset-server/pkg/database/sqlite"
	"github.com/campushq/asset-server/pkg/s"
)

// Backend is the scan verdict audit log. Every terminal verdict is
// recorded so compliance can answer "was this file ever scanned and
// what did the engine say".
type Backend interface {
	Type() string
	RecordVerdict(verdict s.ScanVerdict) error
	RecentVerdicts(bucket, key string, limit int) ([]s.ScanVerdict, error)
}

func GetBackend(backend, connectionString string) (Backend, error) {
	switch backend {
	case "sqlite":
		return sqlite.NewSQLiteBackend(connectionString)
	case "postgres":
		return postgres.NewPostgresBackend(connectionString)
	default:
		return nil, errors.New("invalid database backend")
	}
}
