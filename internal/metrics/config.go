package metrics

import "codeberg.org/mutker/cpufreqd/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/cpufreqd/metrics.db"
	defaultBackupDir = "/var/lib/cpufreqd/backups"

	defaultBatchSize    = 100
	defaultBatchTimeout = 5
	defaultQueueSize    = 1024
)

type Config struct {
	DBPath    string
	BackupDir string
	// BatchSize transitions are written in one transaction; BatchTimeout
	// (seconds) bounds how long a partial batch waits.
	BatchSize    int
	BatchTimeout int
	// QueueSize bounds the transitions waiting for the writer. Further
	// transitions are dropped.
	QueueSize int
	Enabled   bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BackupDir:    defaultBackupDir,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		QueueSize:    defaultQueueSize,
		Enabled:      false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if metrics is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 || c.BatchTimeout <= 0 || c.QueueSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
			QueueSize    int
		}{c.BatchSize, c.BatchTimeout, c.QueueSize})
	}

	return nil
}
