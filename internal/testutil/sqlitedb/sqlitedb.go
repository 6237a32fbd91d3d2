// Package sqlitedb provides isolated in-memory SQLite databases for tests.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TestDB is an in-memory database private to one test.
type TestDB struct {
	DB   *sql.DB
	Name string
}

// NewTestDB opens a fresh in-memory database that is closed when the test ends.
// A named shared-cache database keeps every pooled connection on the same data.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	name := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixNano())
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Failed to open sqlite database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping sqlite database: %v", err)
	}

	testDB := &TestDB{DB: db, Name: name}
	t.Cleanup(func() {
		if err := testDB.DB.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return testDB
}

// Exec runs semicolon-separated statements and fails the test on the first error.
func (tdb *TestDB) Exec(t *testing.T, script string) {
	t.Helper()
	for i, stmt := range splitSQL(script) {
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// sanitizeName keeps only characters that are safe in a URI database name.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}
	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

// splitSQL splits on semicolons. Semicolons inside literals are not supported.
func splitSQL(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, stmt := range parts {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
