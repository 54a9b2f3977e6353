package source

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boswecw/rake/internal/observability"
)

func newDBAdapter(readOnly bool) *DBQueryAdapter {
	return NewDBQueryAdapter(DBQueryConfig{ReadOnly: readOnly}, observability.NewNoopLogger())
}

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "articles.db")
	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE articles (id INTEGER PRIMARY KEY, title TEXT, body TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err = db.Exec(`INSERT INTO articles (title, body) VALUES (?, ?)`,
			"Title "+string(rune('0'+i)), "Body of article "+string(rune('0'+i)))
		require.NoError(t, err)
	}
	return path
}

func TestDBQueryAdapter_ValidateInput(t *testing.T) {
	a := newDBAdapter(true)

	tests := []struct {
		name    string
		input   map[string]interface{}
		wantErr string
	}{
		{"missing connection", map[string]interface{}{"query": "SELECT 1"}, "connection_string is required"},
		{"bad scheme", map[string]interface{}{"connection_string": "oracle://x", "query": "SELECT 1"}, "must start with"},
		{"missing query", map[string]interface{}{"connection_string": "sqlite:///tmp/a.db"}, "query is required"},
		{"not select", map[string]interface{}{"connection_string": "sqlite:///tmp/a.db", "query": "PRAGMA table_info(x)"}, "only SELECT"},
		{"drop hidden", map[string]interface{}{"connection_string": "sqlite:///tmp/a.db", "query": "SELECT 1; DROP TABLE x"}, "forbidden keyword DROP"},
		{"delete keyword", map[string]interface{}{"connection_string": "postgresql://u@h/db", "query": "select * from t where op='DELETE'"}, "forbidden keyword DELETE"},
		{"valid", map[string]interface{}{"connection_string": "sqlite:///tmp/a.db", "query": "SELECT id, body FROM t"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ValidateInput(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDBQueryAdapter_ReadOnlyDisabled(t *testing.T) {
	a := newDBAdapter(false)
	err := a.ValidateInput(map[string]interface{}{
		"connection_string": "sqlite:///tmp/a.db",
		"query":             "UPDATE t SET x = 1",
	})
	assert.NoError(t, err)
}

func TestDBQueryAdapter_FetchSQLite(t *testing.T) {
	path := seedSQLite(t)
	a := newDBAdapter(true)
	defer func() { _ = a.Close() }()

	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"connection_string": "sqlite://" + path,
		"query":             "SELECT id, title, body FROM articles ORDER BY id",
		"title_column":      "title",
		"id_column":         "id",
		"tenant_id":         "tenant-7",
	})
	require.NoError(t, err)
	require.Len(t, docs, 5)

	doc := docs[0]
	assert.True(t, strings.HasPrefix(doc.ID, "db-"))
	assert.True(t, strings.HasSuffix(doc.ID, "-1"))
	assert.Equal(t, "Body of article 1", doc.Content)
	assert.Equal(t, "Title 1", doc.Metadata["title"])
	assert.Equal(t, 1, doc.Metadata["row_number"])
	assert.Equal(t, "tenant-7", doc.TenantID)
	assert.Len(t, doc.Metadata["query_hash"], 16)

	rowData, ok := doc.Metadata["row_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Body of article 1", rowData["body"])
}

func TestDBQueryAdapter_MaxRows(t *testing.T) {
	path := seedSQLite(t)
	a := newDBAdapter(true)
	defer func() { _ = a.Close() }()

	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"connection_string": "sqlite://" + path,
		"query":             "SELECT body FROM articles",
		"max_rows":          2,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDBQueryAdapter_ContentFallbackToRowJSON(t *testing.T) {
	path := seedSQLite(t)
	a := newDBAdapter(true)
	defer func() { _ = a.Close() }()

	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"connection_string": "sqlite://" + path,
		"query":             "SELECT id, title FROM articles WHERE id = 1",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, `"title":"Title 1"`)
}

func TestDBQueryAdapter_EmptyResult(t *testing.T) {
	path := seedSQLite(t)
	a := newDBAdapter(true)
	defer func() { _ = a.Close() }()

	_, err := a.Fetch(context.Background(), map[string]interface{}{
		"connection_string": "sqlite://" + path,
		"query":             "SELECT body FROM articles WHERE id = 999",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows")
}

func TestSplitConnectionString(t *testing.T) {
	driver, dsn, err := splitConnectionString("postgresql://user:pw@localhost:5432/app")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgresql://user:pw@localhost:5432/app", dsn)

	driver, dsn, err = splitConnectionString("mysql://user:pw@dbhost/app")
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Equal(t, "user:pw@tcp(dbhost:3306)/app", dsn)

	driver, dsn, err = splitConnectionString("sqlite:///var/data/app.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, "/var/data/app.db", dsn)

	_, _, err = splitConnectionString("mongodb://h/db")
	assert.Error(t, err)
}

func TestMaskConnectionString(t *testing.T) {
	masked := maskConnectionString("postgresql://alice:hunter2@db:5432/app")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "alice")
	assert.Contains(t, masked, "***")

	plain := maskConnectionString("sqlite:///tmp/a.db")
	assert.Equal(t, "sqlite:///tmp/a.db", plain)
}
