package database

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"marketbot/internal/bootstrap/config"
	"marketbot/internal/bootstrap/logging"
)

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "db")
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "SQLite", DSN: filepath.Join(dir, "marketbot.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	defer sqlDB.Close()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory %s not created: %v", dir, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenLogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.WithLogger(context.Background(), logging.New(&buf, "debug", "text"))

	db, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "log.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	defer sqlDB.Close()

	type noteRow struct {
		ID   uint64
		Name string
	}
	if err := db.AutoMigrate(&noteRow{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	var row noteRow
	if err := db.Take(&row).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("Take() error = %v, want ErrRecordNotFound", err)
	}
	if strings.Contains(buf.String(), "record not found") {
		t.Fatalf("missing row was logged:\n%s", buf.String())
	}

	if err := db.Table("no_such_table").Take(&row).Error; err == nil {
		t.Fatalf("query on a missing table should fail")
	}
	if !strings.Contains(buf.String(), "gorm: ") || !strings.Contains(buf.String(), "no_such_table") {
		t.Fatalf("query error not routed to the context logger:\n%s", buf.String())
	}
}
