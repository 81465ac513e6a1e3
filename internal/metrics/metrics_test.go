package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(dir, "db", "metrics.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.BatchSize = 2

	return cfg
}

func countTransitions(t *testing.T, path string) int {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transitions").Scan(&n))

	return n
}

func TestNewServiceDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = ""

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &noopCollector{}, c)

	c.RecordTransition(&cpufreq.Domain{}, 0, 100, 200)
	assert.Zero(t, c.Dropped())
	assert.NoError(t, c.Close())
}

func TestNewServiceInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		code errors.ErrorCode
	}{
		{"empty path", func(c *Config) { c.DBPath = "" }, ErrInvalidDBPath},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidConfig},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.cfg(&cfg)

			_, err := NewService(cfg, logger.Nop())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestRecordAndClose(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	d := &cpufreq.Domain{ID: 2}
	c.RecordTransition(d, 2, 800000, 1600000)
	c.RecordTransition(d, 3, 1600000, 400000)
	c.RecordTransition(d, 2, 400000, 1200000)

	require.NoError(t, c.Close())
	assert.Equal(t, 3, countTransitions(t, cfg.DBPath))

	// Recording after close is ignored
	c.RecordTransition(d, 2, 400000, 800000)
	assert.NoError(t, c.Close())
}

func TestTransitionColumns(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	c.RecordTransition(&cpufreq.Domain{ID: 4}, 5, 1600000, 400000)
	require.NoError(t, c.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var (
		domain, cpu, from, to int64
		direction             string
	)
	err = db.QueryRow("SELECT domain, cpu, from_khz, to_khz, direction FROM transitions").
		Scan(&domain, &cpu, &from, &to, &direction)
	require.NoError(t, err)

	assert.Equal(t, int64(4), domain)
	assert.Equal(t, int64(5), cpu)
	assert.Equal(t, int64(1600000), from)
	assert.Equal(t, int64(400000), to)
	assert.Equal(t, string(DirectionDown), direction)
}

func TestSchemaVersionMismatchBacksUp(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
        CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
        INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "metrics_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestSchemaCurrentIsKept(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	c.RecordTransition(&cpufreq.Domain{}, 0, 400000, 800000)
	require.NoError(t, c.Close())

	c, err = NewService(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, 1, countTransitions(t, cfg.DBPath))

	_, err = os.Stat(cfg.BackupDir)
	assert.True(t, os.IsNotExist(err))
}

type blockingRepo struct {
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	records []*Transition
}

func (r *blockingRepo) Record(t *Transition) error {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, t)
	return nil
}

func (r *blockingRepo) Close() error {
	r.once.Do(func() { close(r.release) })
	return nil
}

func TestQueueFullDrops(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	s := newService(repo, 1, logger.Nop())

	d := &cpufreq.Domain{}
	start := time.Now()
	for i := 0; i < 10; i++ {
		s.RecordTransition(d, 0, 400000, 800000)
	}
	assert.Less(t, time.Since(start), time.Second)

	// At most one in the writer and one queued
	assert.GreaterOrEqual(t, s.Dropped(), uint64(8))

	repo.once.Do(func() { close(repo.release) })
	require.NoError(t, s.Close())

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, uint64(10), s.Dropped()+uint64(len(repo.records)))
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, DirectionUp, directionOf(400000, 800000))
	assert.Equal(t, DirectionDown, directionOf(800000, 400000))
}
