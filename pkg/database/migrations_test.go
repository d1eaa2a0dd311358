package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var name string
	if err := db.conn.QueryRow("SELECT name FROM schema_migrations WHERE version = 1").Scan(&name); err != nil {
		t.Fatalf("Migration 001 not found: %v", err)
	}
	if name != "initial" {
		t.Errorf("Expected name 'initial', got '%s'", name)
	}

	for _, table := range []string{"clients", "connections"} {
		var count int
		err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check for table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s not found", table)
		}
	}

	// 002 adds last_remote_addr
	if _, err := db.conn.Exec("SELECT last_remote_addr FROM clients"); err != nil {
		t.Errorf("last_remote_addr column missing: %v", err)
	}
}

func TestMigrationBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	// Simulate a database created before migration 002 existed
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if _, err := currentVersion(conn); err != nil {
		t.Fatalf("Failed to init migrations table: %v", err)
	}
	if err := applyMigration(conn, migrations[0]); err != nil {
		t.Fatalf("Failed to apply migration 001: %v", err)
	}
	conn.Close()

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read temp directory: %v", err)
	}

	backupFound := false
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "test.db.backup-v1-") {
			backupFound = true
			break
		}
	}
	if !backupFound {
		var fileNames []string
		for _, f := range files {
			fileNames = append(fileNames, f.Name())
		}
		t.Errorf("Backup file not created. Found files: %v", fileNames)
	}
}

func TestFreshDatabaseNotBackedUp(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	files, _ := os.ReadDir(tmpDir)
	for _, f := range files {
		if strings.Contains(f.Name(), ".backup-") {
			t.Errorf("unexpected backup %s for a new database", f.Name())
		}
	}
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database first time: %v", err)
	}
	var count1 int
	if err := db1.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count1); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database second time: %v", err)
	}
	defer db2.Close()

	var count2 int
	if err := db2.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count2); err != nil {
		t.Fatalf("Failed to count migrations second time: %v", err)
	}

	if count1 != count2 {
		t.Errorf("Migration count changed: %d -> %d (migrations re-ran)", count1, count2)
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("Expected at least 2 migrations, got %d", len(migrations))
	}

	for i := 0; i < len(migrations)-1; i++ {
		if migrations[i].Version >= migrations[i+1].Version {
			t.Errorf("Migrations not sorted: %d >= %d", migrations[i].Version, migrations[i+1].Version)
		}
	}

	if migrations[0].Version != 1 || migrations[0].Name != "initial" || migrations[0].SQL == "" {
		t.Errorf("Unexpected first migration: %+v", migrations[0])
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file    string
		version int
		name    string
		ok      bool
	}{
		{"001_initial.sql", 1, "initial", true},
		{"012_add_index.sql", 12, "add_index", true},
		{"initial.sql", 0, "", false},
		{"001_initial.txt", 0, "", false},
		{"000_zero.sql", 0, "", false},
		{"001_.sql", 0, "", false},
	}

	for _, tt := range tests {
		version, name, ok := parseMigrationName(tt.file)
		if version != tt.version || name != tt.name || ok != tt.ok {
			t.Errorf("parseMigrationName(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.file, version, name, ok, tt.version, tt.name, tt.ok)
		}
	}
}
