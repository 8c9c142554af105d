package postgres

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	gomigratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // initialises postgres
	"github.com/rs/zerolog/log"

	"github.com/campushq/asset-server/pkg/s"
)

//go:embed migrations/*.sql
var fs embed.FS

type Backend struct {
	db *sql.DB
}

func NewPostgresBackend(connectionString string) (*Backend, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return &Backend{}, err
	}

	backend := Backend{
		db: db,
	}

	if err = backend.Migrate(); err != nil {
		return &Backend{}, err
	}

	return &backend, nil
}

func (b *Backend) Type() string { return "postgres" }

func (b *Backend) Migrate() error {
	driver, err := gomigratepostgres.WithInstance(b.db, &gomigratepostgres.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return err
	}

	log.Info().Msg("Starting database migrations")
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Info().Msg("Finished database migrations")

	return nil
}

func (b *Backend) RecordVerdict(verdict s.ScanVerdict) error {
	_, err := b.db.Exec(InsertVerdict,
		verdict.Bucket, verdict.Key, string(verdict.Status), verdict.Engine,
		verdict.Signature, verdict.Reason, verdict.BytesScanned,
		verdict.DurationSeconds, verdict.Cached, verdict.ScannedAt.UTC())
	return err
}

func (b *Backend) RecentVerdicts(bucket, key string, limit int) ([]s.ScanVerdict, error) {
	rows, err := b.db.Query(SelectRecentVerdicts, bucket, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]s.ScanVerdict, 0)
	for rows.Next() {
		var verdict s.ScanVerdict
		var status string
		if err = rows.Scan(&verdict.Bucket, &verdict.Key, &status, &verdict.Engine,
			&verdict.Signature, &verdict.Reason, &verdict.BytesScanned,
			&verdict.DurationSeconds, &verdict.Cached, &verdict.ScannedAt); err != nil {
			return nil, err
		}
		verdict.Status = s.ScanStatus(status)
		result = append(result, verdict)
	}

	return result, rows.Err()
}
