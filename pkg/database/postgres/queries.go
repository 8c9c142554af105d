package postgres

const (
	InsertVerdict = `INSERT INTO scan_verdicts ("bucket", "key", "status", "engine", "signature", "reason", "bytes_scanned", "duration_seconds", "cached", "scanned_at")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	SelectRecentVerdicts = `SELECT "bucket", "key", "status", "engine", "signature", "reason", "bytes_scanned", "duration_seconds", "cached", "scanned_at"
FROM scan_verdicts
WHERE "bucket" = $1 AND "key" = $2
ORDER BY "scanned_at" DESC, "id" DESC
LIMIT $3;`
)
