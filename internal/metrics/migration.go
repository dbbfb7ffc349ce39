package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
)

// managedTables are dropped together when the schema is rebuilt.
var managedTables = []string{"stream_metrics", "schema_versions"}

// migrate brings db to SchemaVersion. Stream history written by an older
// schema is copied to backupDir before the tables are rebuilt; an empty
// history is rebuilt without a backup. A database written by a newer schema
// is left untouched and reported as an error.
func migrate(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	switch {
	case version == SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	case version > SchemaVersion:
		return errFactory.WithData(ErrSchemaMigrationFailed,
			fmt.Sprintf("database schema v%d is newer than supported v%d", version, SchemaVersion))
	}

	rows, err := streamRows(db)
	if err != nil {
		return err
	}

	log.Info().
		Int("from", version).
		Int("to", SchemaVersion).
		Int64("rows", rows).
		Msg("Rebuilding metrics schema")

	if rows > 0 {
		if _, err := backupStreamHistory(db, backupDir, version, log); err != nil {
			return err
		}
	}

	if err := dropTables(db, log); err != nil {
		return err
	}
	return InitSchema(db, log)
}

// streamRows counts stored snapshots, zero when the table does not exist.
func streamRows(db *sql.DB) (int64, error) {
	exists, err := TableExists(db, "stream_metrics")
	if err != nil || !exists {
		return 0, err
	}

	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM stream_metrics").Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrSchemaValidationFailed, err)
	}
	return n, nil
}

func backupStreamHistory(db *sql.DB, backupDir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  backupDir,
			Error: err.Error(),
		})
	}

	backupPath := filepath.Join(backupDir, fmt.Sprintf("stream_metrics_v%d_%s.db",
		version, time.Now().UTC().Format("20060102T150405Z")))

	// VACUUM INTO must run outside a transaction
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Stream history backed up")

	return backupPath, nil
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("Failed to rollback drop tables")
		}
	}()

	for _, table := range managedTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	return nil
}
