package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open picks the driver from the DSN: "sqlite:" / "file:" prefixes and
// ":memory:" go to sqlite, everything else is treated as a MySQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		dialector = sqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialector.Name() == "sqlite" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; serialise through a single connection.
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// Connect is Open for binaries; it panics on failure.
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		panic(err)
	}
	return gdb
}
