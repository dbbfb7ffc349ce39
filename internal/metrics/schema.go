package metrics

import (
	"database/sql"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
)

const (
	SchemaVersion = 1

	// SQL statements derived from schema
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS stream_metrics (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms      INTEGER NOT NULL,
	       samples_received  INTEGER NOT NULL CHECK (samples_received >= 0),
	       samples_dropped   INTEGER NOT NULL CHECK (samples_dropped >= 0),
	       samples_processed INTEGER NOT NULL CHECK (samples_processed >= 0),
	       processing_errors INTEGER NOT NULL CHECK (processing_errors >= 0),
	       raw_buffer_fill   REAL    NOT NULL,
	       flushes           INTEGER NOT NULL CHECK (flushes >= 0),
	       packets_sent      INTEGER NOT NULL CHECK (packets_sent >= 0),
	       send_failures     INTEGER NOT NULL CHECK (send_failures >= 0),
	       buffer_size       INTEGER NOT NULL CHECK (buffer_size >= 0),
	       connected         INTEGER NOT NULL CHECK (connected IN (0, 1)),
	       failed_attempts   INTEGER NOT NULL CHECK (failed_attempts >= 0)
	   );
	   CREATE INDEX IF NOT EXISTS stream_metrics_timestamp ON stream_metrics (timestamp_ms);`

	insertMetricsSQL = `
    INSERT INTO stream_metrics (
        timestamp_ms,
        samples_received, samples_dropped, samples_processed, processing_errors,
        raw_buffer_fill,
        flushes, packets_sent, send_failures, buffer_size,
        connected, failed_attempts
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	recentMetricsSQL = `
    SELECT
        timestamp_ms,
        samples_received, samples_dropped, samples_processed, processing_errors,
        raw_buffer_fill,
        flushes, packets_sent, send_failures, buffer_size,
        connected, failed_attempts
    FROM stream_metrics
    ORDER BY id DESC
    LIMIT ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	// Execute schema creation
	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	log.Debug().Msg("Recording schema version...")
	// Record schema version
	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	log.Debug().Msg("Committing transaction...")
	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}

// GetInsertMetricSQL returns the SQL to insert a metric
func GetInsertMetricSQL() string {
	return insertMetricsSQL
}
