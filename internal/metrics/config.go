package metrics

import (
	"path/filepath"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/eegstreamd/metrics.db"
	defaultBatchSize    = 12
	defaultBatchTimeout = 60
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize snapshots are buffered before a write; 1 writes immediately.
	BatchSize int
	// BatchTimeout is the longest, in seconds, a buffered snapshot waits.
	BatchTimeout int
	// BackupDir receives a copy of the database before a schema rebuild.
	// Defaults to a "backups" directory next to DBPath.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{c.BatchSize, c.BatchTimeout})
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
