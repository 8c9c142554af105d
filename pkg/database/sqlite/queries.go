package sqlite

const (
	InsertVerdict = `INSERT INTO scan_verdicts ("bucket", "key", "status", "engine", "signature", "reason", "bytes_scanned", "duration_seconds", "cached", "scanned_at")
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	SelectRecentVerdicts = `SELECT "bucket", "key", "status", "engine", "signature", "reason", "bytes_scanned", "duration_seconds", "cached", "scanned_at"
FROM scan_verdicts
WHERE "bucket" = ? AND "key" = ?
ORDER BY "scanned_at" DESC, "id" DESC
LIMIT ?;`
)
