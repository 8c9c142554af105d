package main

import (
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/campushq/asset-server/pkg/database"
	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/scan"
	"github.com/campushq/asset-server/pkg/storage"
	"github.com/campushq/asset-server/pkg/utils/logging"
	"github.com/campushq/asset-server/pkg/web"
)

var cli struct {
	// Database backends
	DBSqlite   string `env:"DB_SQLITE" required:"" xor:"db" help:"SQLite filepath e.g. /tmp/db.sqlite"`
	DBPostgres string `env:"DB_POSTGRES" required:"" xor:"db" help:"Postgres URI e.g. postgresql://blah"`

	// Storage backends
	StorageBackend  string `env:"STORAGE_BACKEND" default:"s3" enum:"s3,azureblob,local" help:"Object storage backend"`
	AccountID       string `env:"STORAGE_ACCOUNT_ID" help:"Cloud account identifier (Azure storage account name)"`
	Region          string `env:"STORAGE_REGION" help:"S3 region"`
	Endpoint        string `env:"STORAGE_ENDPOINT" help:"Custom S3 compatible endpoint"`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID" help:"Access key id"`
	SecretAccessKey string `env:"STORAGE_SECRET_ACCESS_KEY" help:"Secret access key (Azure account key)"`
	LocalRoot       string `env:"STORAGE_LOCAL_ROOT" help:"Directory backing local storage e.g. /tmp/assets"`
	LocalPublicURL  string `env:"STORAGE_LOCAL_PUBLIC_URL" help:"Base URL local mode descriptors point at"`

	// Buckets
	PublicBucket     string `env:"PUBLIC_BUCKET" required:"" help:"Bucket for public assets"`
	PrivateBucket    string `env:"PRIVATE_BUCKET" required:"" help:"Bucket for workspace/private assets"`
	UploadsBucket    string `env:"UPLOADS_BUCKET" required:"" help:"Bucket new uploads land in"`
	QuarantineBucket string `env:"QUARANTINE_BUCKET" help:"Bucket infected objects get moved to"`

	// Upload policy
	UploadTTLMinutes   int    `env:"UPLOAD_TTL_MINUTES" default:"15" help:"Presigned upload URL lifetime"`
	DownloadTTLMinutes int    `env:"DOWNLOAD_TTL_MINUTES" default:"60" help:"Presigned download URL lifetime"`
	MaxUploadBytes     int64  `env:"MAX_UPLOAD_BYTES" default:"1073741824" help:"Upload size ceiling"`
	CDNURL             string `env:"CDN_URL" help:"CDN base for public URLs"`

	// Malware scanning
	ScanEnabled         bool   `env:"SCAN_ENABLED" default:"true" help:"Enable malware scanning"`
	ScanHost            string `env:"SCAN_HOST" default:"127.0.0.1" help:"clamd host"`
	ScanPort            int    `env:"SCAN_PORT" default:"3310" help:"clamd port"`
	ScanTimeoutMs       int    `env:"SCAN_TIMEOUT_MS" default:"120000" help:"Hard scan timeout"`
	ScanMaxFileBytes    int64  `env:"SCAN_MAX_FILE_SIZE_BYTES" default:"524288000" help:"Largest object the scanner will read"`
	ScanFailOpen        bool   `env:"SCAN_FAIL_OPEN" help:"Let objects through when the engine is unavailable"`
	ScanCacheTTLMs      int    `env:"SCAN_CACHE_TTL_MS" default:"3600000" help:"Verdict cache TTL, 0 disables caching"`
	ScanSkipMetadataTag string `env:"SCAN_SKIP_METADATA_TAG" default:"scan-exempt" help:"Object metadata tag that skips scanning"`

	// Misc
	IdentityProviderURL  string `env:"IDP_WELL_KNOWN_URL" help:"OIDC discovery URL used to validate service tokens"`
	LogLevel             string `env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	ListenAddress        string `env:"LISTEN_ADDR" default:"0.0.0.0:8080" help:"Listen address e.g. 0.0.0.0:8080"`
	MetricsListenAddress string `env:"METRICS_LISTEN_ADDR" default:"0.0.0.0:9102" help:"Listen address for prometheus metrics e.g. 0.0.0.0:9102"`
	Debug                bool   `env:"DEBUG" help:"Enable debug mode"`
}

func main() {
	kong.Parse(&cli)

	logging.SetupLogging(cli.LogLevel)

	var databaseBackendName, dbConnectionString string
	if cli.DBSqlite != "" {
		databaseBackendName = "sqlite"
		dbConnectionString = cli.DBSqlite
	}
	if cli.DBPostgres != "" {
		databaseBackendName = "postgres"
		dbConnectionString = cli.DBPostgres
	}

	storageConfig := s.StorageConfig{
		AccountID:        cli.AccountID,
		Region:           cli.Region,
		Endpoint:         cli.Endpoint,
		AccessKeyID:      cli.AccessKeyID,
		SecretAccessKey:  cli.SecretAccessKey,
		PublicBucket:     cli.PublicBucket,
		PrivateBucket:    cli.PrivateBucket,
		UploadsBucket:    cli.UploadsBucket,
		QuarantineBucket: cli.QuarantineBucket,
		UploadTTL:        time.Duration(cli.UploadTTLMinutes) * time.Minute,
		DownloadTTL:      time.Duration(cli.DownloadTTLMinutes) * time.Minute,
		MaxUploadBytes:   cli.MaxUploadBytes,
		CDNURL:           cli.CDNURL,
		LocalRoot:        cli.LocalRoot,
		LocalPublicURL:   cli.LocalPublicURL,
	}

	dbBackend, err := database.GetBackend(databaseBackendName, dbConnectionString)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initiate database backend")
	}

	storageBackend, err := storage.GetStorageBackend(cli.StorageBackend, storageConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initiate storage backend")
	}

	engine := scan.NewClamdEngine(cli.ScanHost, cli.ScanPort)
	if cli.ScanEnabled {
		if err = engine.Ping(); err != nil {
			log.Warn().Err(err).Msg("Scan engine unreachable at startup")
		}
	}

	scanner := scan.NewScanner(scan.Config{
		Enabled:          cli.ScanEnabled,
		Timeout:          time.Duration(cli.ScanTimeoutMs) * time.Millisecond,
		MaxFileSizeBytes: cli.ScanMaxFileBytes,
		FailOpen:         cli.ScanFailOpen,
		CacheTTL:         time.Duration(cli.ScanCacheTTLMs) * time.Millisecond,
		SkipMetadataTag:  cli.ScanSkipMetadataTag,
		QuarantineBucket: cli.QuarantineBucket,
	}, engine, storageBackend, dbBackend)

	if cli.IdentityProviderURL != "" {
		web.SetIdentityProvider(cli.IdentityProviderURL)
	}

	handlers := web.Handlers{
		Storage:        storageBackend,
		Scanner:        scanner,
		Database:       dbBackend,
		MaxUploadBytes: cli.MaxUploadBytes,
		Debug:          cli.Debug,
	}

	router := web.GetRouter(cli.MetricsListenAddress, handlers, true)

	log.Info().Msgf("Listening on %s", cli.ListenAddress)
	if err = router.Run(cli.ListenAddress); err != nil {
		log.Fatal().Err(err).Msg("Failed HTTP server loop")
	}
}
