// Package storetest はテスト用のインメモリデータベースを提供します。
package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yourusername/docforge/internal/store"
)

// DB はマイグレーション済みのSQLiteデータベースを返します。
// テスト終了時にファイルごと破棄されます。
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "docforge_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}

	if err := store.Migrate(db); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}
