package postgres

// SQL queries for carry-over scans and plan document storage

const (
	// queryScanCarryOver reads one page of the carry-over key space.
	// Keys are fixed-width time keys, so ORDER BY key is chronological.
	// The end key is exclusive.
	queryScanCarryOver = `
		SELECT key, collector_id
		FROM carry_over
		WHERE key >= $1
		  AND key < $2
		ORDER BY key ASC
		LIMIT $3
		OFFSET $4
	`

	queryGetDocument = `
		SELECT body
		FROM documents
		WHERE kind = $1
		  AND id = $2
	`

	// queryPutDocument overwrites an existing document with the same (kind, id).
	queryPutDocument = `
		INSERT INTO documents (kind, id, body, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, id) DO UPDATE SET
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`
)
