package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options configures the database connection
type Options struct {
	// Driver is "sqlite" or "postgres"
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database described by opts.
// Unique constraint violations are translated to gorm.ErrDuplicatedKey.
func Open(opts Options, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	switch {
	case isMemoryDSN(opts):
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return db, nil
}

// sqliteDefaults let concurrent writers queue on the write lock instead of
// failing with "database is locked".
var sqliteDefaults = [][2]string{
	{"_txlock", "immediate"},
	{"_busy_timeout", "5000"},
	{"_journal_mode", "WAL"},
}

// sqliteDSN appends sqliteDefaults to dsn, keeping any value the DSN
// already sets.
func sqliteDSN(dsn string) string {
	var params []string
	for _, kv := range sqliteDefaults {
		if strings.Contains(dsn, kv[0]+"=") {
			continue
		}
		params = append(params, kv[0]+"="+kv[1])
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isMemoryDSN(opts Options) bool {
	if opts.Driver != "sqlite" && opts.Driver != "" {
		return false
	}
	return strings.Contains(opts.DSN, ":memory:") || strings.Contains(opts.DSN, "mode=memory")
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	level := gormlogger.Warn
	if logger.Core().Enabled(zap.DebugLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}
